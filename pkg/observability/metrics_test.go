package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pergolahq/pergola/pkg/domain"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "support")

	// Counters start at zero once touched.
	m.Turns.WithLabelValues("matched")
	m.Events.WithLabelValues("enter_state")

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "pergola_turns_total")
	assert.Contains(t, names, "pergola_history_events_total")
	assert.Contains(t, names, "pergola_joins_satisfied_total")
	assert.Contains(t, names, "pergola_routing_ambiguities_total")
}

func TestHooksCountEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "support")
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnEvent(ctx, "conv-1", domain.HistoryEvent{Kind: domain.EventEnterState, State: "greeting"})
	hooks.OnEvent(ctx, "conv-1", domain.HistoryEvent{Kind: domain.EventEnterState, State: "discovery"})
	hooks.OnEvent(ctx, "conv-1", domain.HistoryEvent{Kind: domain.EventJoinSatisfied, State: "merge"})
	hooks.OnEvent(ctx, "conv-1", domain.HistoryEvent{Kind: domain.EventRouteWarning, Branch: "b1"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("enter_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("join_satisfied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JoinsReached))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ambiguities))
}

func TestHooksCountDecisionOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "support")
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnDecision(ctx, "conv-1", &domain.Decision{Meta: domain.DecisionMeta{RuleMatched: true}})
	hooks.OnDecision(ctx, "conv-1", &domain.Decision{Meta: domain.DecisionMeta{RuleMatched: true}})
	hooks.OnDecision(ctx, "conv-1", &domain.Decision{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("no_match")))
}
