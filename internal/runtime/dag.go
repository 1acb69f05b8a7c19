package runtime

import (
	"context"

	"github.com/pergolahq/pergola/pkg/domain"
)

// maxEnterDepth bounds recursive state entry so a cycle of choice nodes
// cannot spin a turn forever.
const maxEnterDepth = 16

// enterState moves the conversation into a state, expanding DAG node
// semantics in the same turn-processing pass: choices route immediately to
// exactly one successor, forks spawn their branches, plain and join states
// simply become current.
func (e *Engine) enterState(ctx context.Context, convo *domain.ConversationContext, name string, intent domain.Intent, d *domain.Decision, depth int) error {
	if depth >= maxEnterDepth {
		return &domain.FlowError{State: name, Reason: "state entry recursion exceeded limit"}
	}
	st, ok := e.flow.State(name)
	if !ok {
		return &domain.FlowError{State: name, Reason: "state does not exist"}
	}

	switch st.Node {
	case domain.NodeChoice:
		e.record(ctx, convo, domain.EventEnterState, name, "", "")
		for _, b := range st.Choice.Branches {
			matched, err := e.registry.Eval(b.When, intent, convo.CollectedData)
			if err == nil && matched {
				return e.enterState(ctx, convo, b.Target, intent, d, depth+1)
			}
		}
		if st.Choice.Default != "" {
			return e.enterState(ctx, convo, st.Choice.Default, intent, d, depth+1)
		}
		return &domain.FlowError{State: name, Reason: "choice exhausted: no condition matched and no default is configured"}

	case domain.NodeFork:
		convo.CurrentState = name
		if st.Phase != "" {
			convo.Phase = st.Phase
		}
		e.record(ctx, convo, domain.EventEnterState, name, "", "")
		if d.Action == "" {
			d.Action = st.OnEnter
		}
		return e.spawn(ctx, convo, st, intent, d, depth)

	default:
		convo.CurrentState = name
		if st.Phase != "" {
			convo.Phase = st.Phase
		}
		e.record(ctx, convo, domain.EventEnterState, name, "", "")
		if d.Action == "" {
			d.Action = st.OnEnter
		}
		return nil
	}
}

// spawn activates fork branches and enters every start state in the same
// pass. The conversation stays logically inside the fork node until the
// join is satisfied.
func (e *Engine) spawn(ctx context.Context, convo *domain.ConversationContext, st *domain.StateDef, intent domain.Intent, d *domain.Decision, depth int) error {
	fork := st.Fork
	active := e.activate(fork, intent, convo.CollectedData)
	if len(active) == 0 {
		// Every activation guard declined; the fork degenerates to a direct
		// transition into its join state.
		e.record(ctx, convo, domain.EventJoinSatisfied, fork.JoinAt, "", "no branches activated")
		d.Meta.JoinSatisfied = true
		return e.enterState(ctx, convo, fork.JoinAt, intent, d, depth+1)
	}

	if convo.DAG.Branches == nil {
		convo.DAG.Branches = make(map[string]*domain.BranchState)
	}
	convo.DAG.ForkState = st.Name
	for _, b := range active {
		convo.DAG.Branches[b.ID] = &domain.BranchState{
			Status:        domain.BranchActive,
			CurrentState:  b.StartAt,
			EnteredAtTurn: convo.TurnCount,
		}
		e.record(ctx, convo, domain.EventForkSpawn, b.StartAt, b.ID, "")
		e.record(ctx, convo, domain.EventEnterState, b.StartAt, b.ID, "")
	}
	return nil
}

// branchTurn routes a turn while branches are active: pick the branch, run
// its current state's rules, and handle completion into the join.
func (e *Engine) branchTurn(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent) (*domain.Decision, error) {
	d := &domain.Decision{}

	forkState, ok := e.flow.State(convo.DAG.ForkState)
	if !ok || forkState.Fork == nil {
		return nil, &domain.HistoryReplayError{ConversationID: convo.ID, State: convo.DAG.ForkState}
	}
	fork := forkState.Fork

	r := route(fork, &convo.DAG, intent)
	convo.DAG.RoundRobin = r.Cursor
	if r.Warned {
		e.record(ctx, convo, domain.EventRouteWarning, convo.CurrentState, r.BranchID, "no branch accepts intent "+intent.Name)
		d.Meta.Warnings = append(d.Meta.Warnings, "routing ambiguity: defaulted to branch "+r.BranchID)
		e.logger.Warn("routing ambiguity",
			"conversation", convo.ID,
			"intent", intent.Name,
			"branch", r.BranchID,
		)
	}
	d.Meta.Branch = r.BranchID

	branch := convo.DAG.Branches[r.BranchID]
	branchState, ok := e.flow.State(branch.CurrentState)
	if !ok {
		return nil, &domain.HistoryReplayError{ConversationID: convo.ID, State: branch.CurrentState}
	}

	res, matched := e.resolver.Resolve(branchState.Rules, intent, convo.CollectedData)
	d.Meta.RuleMatched = matched
	if !matched {
		d.Action = branchState.Default
		return e.finish(ctx, convo, d), nil
	}
	d.Action = res.Action
	if res.Target == "" {
		return e.finish(ctx, convo, d), nil
	}

	target, err := e.resolveBranchTarget(ctx, convo, intent, r.BranchID, res.Target, 0)
	if err != nil {
		return nil, err
	}

	if target == fork.JoinAt {
		return e.completeBranch(ctx, convo, intent, fork, r.BranchID, d)
	}

	// In-branch transition: only the branch record moves, the conversation
	// remains inside the fork.
	branch.CurrentState = target
	e.record(ctx, convo, domain.EventEnterState, target, r.BranchID, "")
	if ts, ok := e.flow.State(target); ok {
		if d.Action == "" {
			d.Action = ts.OnEnter
		}
		if ts.Phase != "" {
			convo.Phase = ts.Phase
		}
	}
	return e.finish(ctx, convo, d), nil
}

// resolveBranchTarget expands choice nodes reached from inside a branch and
// returns the concrete destination state. A chain of choices is followed in
// the same pass; the branch may land on the fork's join through one.
func (e *Engine) resolveBranchTarget(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent, branchID, name string, depth int) (string, error) {
	if depth >= maxEnterDepth {
		return "", &domain.FlowError{State: name, Reason: "state entry recursion exceeded limit"}
	}
	st, ok := e.flow.State(name)
	if !ok {
		return "", &domain.FlowError{State: name, Reason: "state does not exist"}
	}
	if st.Node != domain.NodeChoice {
		return name, nil
	}

	e.record(ctx, convo, domain.EventEnterState, name, branchID, "")
	for _, b := range st.Choice.Branches {
		matched, err := e.registry.Eval(b.When, intent, convo.CollectedData)
		if err == nil && matched {
			return e.resolveBranchTarget(ctx, convo, intent, branchID, b.Target, depth+1)
		}
	}
	if st.Choice.Default != "" {
		return e.resolveBranchTarget(ctx, convo, intent, branchID, st.Choice.Default, depth+1)
	}
	return "", &domain.FlowError{State: name, Reason: "choice exhausted: no condition matched and no default is configured"}
}

// completeBranch records a branch's arrival at its join and, when the sync
// point is satisfied, transitions the whole conversation into the join
// state.
func (e *Engine) completeBranch(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent, fork *domain.ForkSpec, branchID string, d *domain.Decision) (*domain.Decision, error) {
	branch := convo.DAG.Branches[branchID]
	branch.Status = domain.BranchCompleted
	branch.CurrentState = fork.JoinAt
	e.record(ctx, convo, domain.EventBranchComplete, fork.JoinAt, branchID, "")

	joinState, ok := e.flow.State(fork.JoinAt)
	if !ok || joinState.Join == nil {
		return nil, &domain.FlowError{State: fork.JoinAt, Reason: "join spec missing"}
	}

	if !satisfied(joinState.Join, convo.DAG.Branches) {
		// Branch is parked; subsequent turns keep routing across the
		// remaining active branches.
		return e.finish(ctx, convo, d), nil
	}

	// Sync point satisfied. Remaining active participants are abandoned,
	// observably, before the conversation leaves the fork.
	for _, id := range joinState.Join.Branches {
		b, ok := convo.DAG.Branches[id]
		if !ok || id == branchID {
			continue
		}
		if b.Status == domain.BranchActive {
			b.Status = domain.BranchAbandoned
			e.record(ctx, convo, domain.EventBranchAbandoned, b.CurrentState, id, "join "+fork.JoinAt+" satisfied")
		}
	}
	d.Meta.JoinSatisfied = true
	e.record(ctx, convo, domain.EventJoinSatisfied, fork.JoinAt, "", string(joinState.Join.Strategy))
	convo.DAG.ForkState = ""

	if err := e.enterState(ctx, convo, fork.JoinAt, intent, d, 0); err != nil {
		return nil, err
	}
	return e.finish(ctx, convo, d), nil
}
