package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pergolahq/pergola/internal/logging"
	"github.com/pergolahq/pergola/pkg/conditions"
	"github.com/pergolahq/pergola/pkg/domain"
)

// Engine executes turns against one flow configuration. The configuration is
// read-only and safe for unlimited concurrent readers; the conversation
// context passed to each call is exclusively owned by that call.
type Engine struct {
	flow     *domain.FlowConfig
	registry *conditions.Registry
	resolver *Resolver
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	flags    map[string]bool
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithFeatureFlags injects feature-flag state at construction. Flags are
// never read from ambient globals inside the executor.
func WithFeatureFlags(flags map[string]bool) Option {
	return func(e *Engine) { e.flags = flags }
}

// New validates the flow against the condition registry and returns an
// engine bound to it. Validation failures are fatal: the flow must not serve
// any conversation.
func New(flow *domain.FlowConfig, registry *conditions.Registry, opts ...Option) (*Engine, error) {
	if flow == nil {
		return nil, fmt.Errorf("flow configuration is required")
	}
	if registry == nil {
		registry = conditions.Default()
	}
	flow.Normalize()
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	if err := registry.Resolve(flow); err != nil {
		return nil, &domain.ConfigurationError{Flow: flow.Name, Issues: []string{err.Error()}}
	}

	e := &Engine{
		flow:     flow,
		registry: registry,
		resolver: NewResolver(registry, flow.Variables),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Flow returns the engine's configuration.
func (e *Engine) Flow() *domain.FlowConfig { return e.flow }

// Inspect returns copies of the resolved state definitions, sorted by name.
func (e *Engine) Inspect() []domain.StateDef {
	out := make([]domain.StateDef, 0, len(e.flow.States))
	for _, s := range e.flow.States {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewConversation creates a context positioned at the flow's entry state.
func (e *Engine) NewConversation(id string) *domain.ConversationContext {
	return domain.NewConversation(id, e.flow.Name, e.flow.Entry)
}

// ProcessTurn resolves one turn: interrupt rules first, then branch routing
// while a DAG region is active, then ordinary rule resolution. Every path
// terminates in a Decision or a typed error; a panic anywhere in the turn is
// converted to a FlowError rather than crashing the caller.
func (e *Engine) ProcessTurn(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent) (d *domain.Decision, err error) {
	if convo == nil {
		return nil, fmt.Errorf("conversation context is required")
	}
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = &domain.FlowError{State: convo.CurrentState, Reason: fmt.Sprintf("panic during turn: %v", r)}
		}
	}()

	state, ok := e.flow.State(convo.CurrentState)
	if !ok {
		return nil, &domain.HistoryReplayError{ConversationID: convo.ID, State: convo.CurrentState}
	}

	convo.TurnCount++
	convo.Merge(intent.ExtractedData)

	if len(e.flow.Interrupts) > 0 {
		if res, matched := e.resolver.Resolve(e.flow.Interrupts, intent, convo.CollectedData); matched {
			return e.interruptTurn(ctx, convo, intent, res)
		}
	}

	if active := convo.DAG.ActiveBranches(); len(active) > 0 && !convo.DAG.Interrupted {
		return e.branchTurn(ctx, convo, intent)
	}

	if (state.Node == domain.NodeChoice || state.Node == domain.NodeFork) && !convo.DAG.EnterFired(state.Name) {
		// An entry state that is a DAG node expands on the first turn, the
		// same way a rule transition into it would.
		d := &domain.Decision{}
		if err := e.enterState(ctx, convo, state.Name, intent, d, 0); err != nil {
			return nil, err
		}
		return e.finish(ctx, convo, d), nil
	}

	return e.stateTurn(ctx, convo, intent, state)
}

// stateTurn handles an ordinary (or join/resting) state via the resolver.
func (e *Engine) stateTurn(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent, state *domain.StateDef) (*domain.Decision, error) {
	d := &domain.Decision{}
	res, matched := e.resolver.Resolve(state.Rules, intent, convo.CollectedData)
	d.Meta.RuleMatched = matched
	if !matched {
		// Recovered locally via the state's default action, never fatal.
		d.Action = state.Default
		return e.finish(ctx, convo, d), nil
	}
	d.Action = res.Action
	if res.Target != "" {
		if err := e.enterState(ctx, convo, res.Target, intent, d, 0); err != nil {
			return nil, err
		}
	}
	return e.finish(ctx, convo, d), nil
}

// interruptTurn diverts the conversation via a flow-level interrupt rule,
// suspending any active DAG region so it can be resumed later.
func (e *Engine) interruptTurn(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent, res Resolution) (*domain.Decision, error) {
	d := &domain.Decision{Meta: domain.DecisionMeta{RuleMatched: true}}

	if active := convo.DAG.ActiveBranches(); len(active) > 0 && !convo.DAG.Interrupted {
		last := active[0]
		branch := convo.DAG.Branches[last]
		convo.DAG.Interrupted = true
		convo.DAG.InterruptBranch = last
		convo.DAG.InterruptState = branch.CurrentState
		e.record(ctx, convo, domain.EventInterrupt, branch.CurrentState, last, "intent "+intent.Name)
		d.Meta.Interrupted = true
		e.logger.Info("conversation interrupted",
			"conversation", convo.ID,
			"branch", last,
			"state", branch.CurrentState,
		)
	}

	d.Action = res.Action
	if res.Target != "" {
		if err := e.enterState(ctx, convo, res.Target, intent, d, 0); err != nil {
			return nil, err
		}
	}
	return e.finish(ctx, convo, d), nil
}

// Resume restores an interrupted conversation to its last coherent point per
// the flow's resume strategy. Entry actions already recorded as fired in
// history are never re-fired.
func (e *Engine) Resume(ctx context.Context, convo *domain.ConversationContext) (*domain.Decision, error) {
	if convo == nil {
		return nil, fmt.Errorf("conversation context is required")
	}
	if !convo.DAG.Interrupted {
		return nil, domain.ErrNotInterrupted
	}

	convo.TurnCount++
	d := &domain.Decision{Meta: domain.DecisionMeta{Resumed: true}}

	strategy := e.flow.Resume
	if e.flags["deep_resume"] {
		strategy = domain.ResumeDeep
	}

	target := convo.DAG.InterruptState
	branch := convo.DAG.InterruptBranch
	fired := convo.DAG.EnterFired(target)

	switch strategy {
	case domain.ResumeDeep:
		rs, err := replay(e.flow, convo)
		if err != nil {
			return nil, err
		}
		if len(rs.Branches) > 0 {
			convo.DAG.Branches = rs.Branches
		}
		if rs.Current != "" {
			convo.CurrentState = rs.Current
		} else {
			convo.CurrentState = target
		}

	default: // shallow: nested sub-progress is discarded
		for id, b := range convo.DAG.Branches {
			if b.Status == domain.BranchActive {
				b.Status = domain.BranchAbandoned
				e.record(ctx, convo, domain.EventBranchAbandoned, b.CurrentState, id, "shallow resume")
			}
		}
		convo.DAG.ForkState = ""
		convo.CurrentState = target
	}

	convo.DAG.Interrupted = false
	convo.DAG.InterruptState = ""
	convo.DAG.InterruptBranch = ""
	e.record(ctx, convo, domain.EventResume, target, branch, string(strategy))

	if !fired {
		if st, ok := e.flow.State(target); ok && st.OnEnter != "" {
			d.Action = st.OnEnter
		}
	}
	if d.Action == "" {
		d.Action = "resume"
	}
	return e.finish(ctx, convo, d), nil
}

// finish stamps the decision with the final conversation position. The
// decision is immutable once returned.
func (e *Engine) finish(ctx context.Context, convo *domain.ConversationContext, d *domain.Decision) *domain.Decision {
	d.NextState = convo.CurrentState
	d.Phase = convo.Phase
	d.CollectedData = make(map[string]any, len(convo.CollectedData))
	for k, v := range convo.CollectedData {
		d.CollectedData[k] = v
	}
	if st, ok := e.flow.State(convo.CurrentState); ok && st.Terminal {
		d.Meta.Terminal = true
	}
	if e.hooks.OnDecision != nil {
		e.hooks.OnDecision(ctx, convo.ID, d)
	}
	return d
}
