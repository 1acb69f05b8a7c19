package pergola

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pergolahq/pergola/internal/logging"
	"github.com/pergolahq/pergola/internal/runtime"
	"github.com/pergolahq/pergola/pkg/conditions"
	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/ports"
)

// Version is the library version, exposed for adapters that report it.
const Version = "0.3.0"

// Engine is the high-level entry point for the Pergola library. It wraps the
// internal runtime and provides a simplified API for consumers.
type Engine struct {
	rt       *runtime.Engine
	registry *conditions.Registry
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	flags    map[string]bool
	Name     string
}

var _ ports.TurnEngine = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithConditions injects a custom condition registry. Flows referencing
// conditions outside the builtin set must supply one.
func WithConditions(registry *conditions.Registry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithFeatureFlags injects feature-flag state at construction time, keeping
// flag reads out of the executor hot path. Recognized flags: "deep_resume"
// forces the deep resume strategy regardless of flow configuration.
func WithFeatureFlags(flags map[string]bool) Option {
	return func(e *Engine) { e.flags = flags }
}

// New initializes an Engine for one flow. The configuration is normalized
// and validated here; a flow with dangling references never serves a
// conversation.
func New(flow *domain.FlowConfig, opts ...Option) (*Engine, error) {
	eng := &Engine{
		registry: conditions.Default(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if flow != nil {
		eng.Name = flow.Name
	}

	rt, err := runtime.New(flow, eng.registry,
		runtime.WithLogger(eng.logger),
		runtime.WithHooks(eng.hooks),
		runtime.WithFeatureFlags(eng.flags),
	)
	if err != nil {
		return nil, err
	}
	eng.rt = rt
	return eng, nil
}

// NewConversation creates a fresh conversation context at the flow's entry
// state. An empty id is replaced with a random UUID.
func (e *Engine) NewConversation(id string) *domain.ConversationContext {
	if id == "" {
		id = uuid.NewString()
	}
	return e.rt.NewConversation(id)
}

// ProcessTurn is the primary entry point: given a classified intent record,
// deterministically produce one Decision. The conversation context is
// mutated in place; callers must not process two turns for the same
// conversation concurrently.
func (e *Engine) ProcessTurn(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent) (*domain.Decision, error) {
	return e.rt.ProcessTurn(ctx, convo, intent)
}

// Resume restores an interrupted conversation to its last coherent point.
func (e *Engine) Resume(ctx context.Context, convo *domain.ConversationContext) (*domain.Decision, error) {
	return e.rt.Resume(ctx, convo)
}

// Inspect returns the resolved state definitions for introspection tooling.
func (e *Engine) Inspect() []domain.StateDef {
	return e.rt.Inspect()
}

// Flow returns the engine's configuration.
func (e *Engine) Flow() *domain.FlowConfig {
	return e.rt.Flow()
}

// Serialize encodes a conversation context as a snapshot for external
// persistence. See domain.Serialize.
func Serialize(convo *domain.ConversationContext) ([]byte, error) {
	return domain.Serialize(convo)
}

// Deserialize decodes a snapshot produced by Serialize.
func Deserialize(data []byte) (*domain.ConversationContext, error) {
	return domain.Deserialize(data)
}
