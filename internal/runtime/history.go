package runtime

import (
	"context"

	"github.com/pergolahq/pergola/pkg/domain"
)

// record appends an event to the conversation's history log and notifies
// hooks. The log is append-only; nothing in the engine rewrites it.
func (e *Engine) record(ctx context.Context, convo *domain.ConversationContext, kind domain.EventKind, state, branch, note string) {
	ev := domain.HistoryEvent{
		Turn:   convo.TurnCount,
		Kind:   kind,
		State:  state,
		Branch: branch,
		Note:   note,
	}
	convo.DAG.History = append(convo.DAG.History, ev)
	e.logger.Debug("history event",
		"conversation", convo.ID,
		"kind", string(kind),
		"state", state,
		"branch", branch,
	)
	if e.hooks.OnEvent != nil {
		e.hooks.OnEvent(ctx, convo.ID, ev)
	}
}

// replayState is the coherent point reconstructed from the history log.
type replayState struct {
	Current  string
	Branches map[string]*domain.BranchState
}

// replay folds the history log into the last coherent state before the
// interruption. It is a pure function of the flow and the log. A restored
// state that no longer exists in the flow yields a HistoryReplayError.
func replay(flow *domain.FlowConfig, convo *domain.ConversationContext) (replayState, error) {
	rs := replayState{Branches: make(map[string]*domain.BranchState)}

	ensure := func(id string) *domain.BranchState {
		b, ok := rs.Branches[id]
		if !ok {
			b = &domain.BranchState{Status: domain.BranchActive}
			rs.Branches[id] = b
		}
		return b
	}

	for _, ev := range convo.DAG.History {
		switch ev.Kind {
		case domain.EventEnterState:
			if ev.Branch == "" {
				rs.Current = ev.State
			} else {
				ensure(ev.Branch).CurrentState = ev.State
			}
		case domain.EventForkSpawn:
			b := ensure(ev.Branch)
			b.Status = domain.BranchActive
			b.CurrentState = ev.State
			b.EnteredAtTurn = ev.Turn
		case domain.EventBranchComplete:
			b := ensure(ev.Branch)
			b.Status = domain.BranchCompleted
			b.CurrentState = ev.State
		case domain.EventBranchAbandoned:
			ensure(ev.Branch).Status = domain.BranchAbandoned
		case domain.EventJoinSatisfied:
			rs.Current = ev.State
		case domain.EventInterrupt:
			// The interruption point is the last coherent state; later
			// events describe the diversion, not fork progress.
			return validateReplay(flow, convo, rs)
		case domain.EventResume:
			rs.Current = ev.State
		}
	}
	return validateReplay(flow, convo, rs)
}

func validateReplay(flow *domain.FlowConfig, convo *domain.ConversationContext, rs replayState) (replayState, error) {
	if rs.Current != "" {
		if _, ok := flow.States[rs.Current]; !ok {
			return rs, &domain.HistoryReplayError{ConversationID: convo.ID, State: rs.Current}
		}
	}
	for _, b := range rs.Branches {
		if b.CurrentState == "" {
			continue
		}
		if _, ok := flow.States[b.CurrentState]; !ok {
			return rs, &domain.HistoryReplayError{ConversationID: convo.ID, State: b.CurrentState}
		}
	}
	return rs, nil
}
