package domain

import "context"

// EventKind categorizes history log entries.
type EventKind string

const (
	EventEnterState      EventKind = "enter_state"
	EventForkSpawn       EventKind = "fork_spawn"
	EventBranchComplete  EventKind = "branch_complete"
	EventBranchAbandoned EventKind = "branch_abandoned"
	EventJoinSatisfied   EventKind = "join_satisfied"
	EventInterrupt       EventKind = "interrupt"
	EventResume          EventKind = "resume"
	EventRouteWarning    EventKind = "route_warning"
)

// HistoryEvent is one entry of the append-only conversation event log. The
// turn counter is monotonic; together the events form a replayable record of
// state entries and branch activity.
type HistoryEvent struct {
	Turn   int       `json:"turn"`
	Kind   EventKind `json:"kind"`
	State  string    `json:"state,omitempty"`
	Branch string    `json:"branch,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability. All hooks are
// optional and must not mutate their arguments.
type LifecycleHooks struct {
	// OnEvent fires for every history event the engine records.
	OnEvent func(ctx context.Context, conversationID string, ev HistoryEvent)

	// OnDecision fires once per processed turn with the final decision.
	OnDecision func(ctx context.Context, conversationID string, d *Decision)
}
