// Package observability provides Prometheus instrumentation for the flow
// engine, wired in through the engine's lifecycle hooks.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pergolahq/pergola/pkg/domain"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Turns        *prometheus.CounterVec
	Events       *prometheus.CounterVec
	JoinsReached prometheus.Counter
	Ambiguities  prometheus.Counter
}

// NewMetrics creates and registers the collectors against reg.
func NewMetrics(reg prometheus.Registerer, flow string) *Metrics {
	labels := prometheus.Labels{"flow": flow}
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pergola",
			Name:        "turns_total",
			Help:        "Turns processed, by rule resolution outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pergola",
			Name:        "history_events_total",
			Help:        "History events recorded, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		JoinsReached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pergola",
			Name:        "joins_satisfied_total",
			Help:        "Sync points satisfied.",
			ConstLabels: labels,
		}),
		Ambiguities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pergola",
			Name:        "routing_ambiguities_total",
			Help:        "Turns routed by the fail-safe fallback.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.Turns, m.Events, m.JoinsReached, m.Ambiguities)
	return m
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnEvent: func(_ context.Context, _ string, ev domain.HistoryEvent) {
			m.Events.WithLabelValues(string(ev.Kind)).Inc()
			switch ev.Kind {
			case domain.EventJoinSatisfied:
				m.JoinsReached.Inc()
			case domain.EventRouteWarning:
				m.Ambiguities.Inc()
			}
		},
		OnDecision: func(_ context.Context, _ string, d *domain.Decision) {
			outcome := "no_match"
			if d.Meta.RuleMatched {
				outcome = "matched"
			}
			m.Turns.WithLabelValues(outcome).Inc()
		},
	}
}
