package domain

import "sort"

// BranchStatus tracks the lifecycle of one fork branch.
type BranchStatus string

const (
	BranchActive    BranchStatus = "active"
	BranchCompleted BranchStatus = "completed"
	BranchAbandoned BranchStatus = "abandoned"
)

// BranchState is the runtime record of one branch spawned by a fork.
type BranchState struct {
	Status        BranchStatus `json:"status"`
	CurrentState  string       `json:"current_state"`
	EnteredAtTurn int          `json:"entered_at_turn"`
}

// DAGContext is the exclusive owner of all DAG-related mutable state of a
// conversation. It is the unit serialized for snapshot/resume.
type DAGContext struct {
	// ForkState names the fork node the conversation is logically inside
	// while branches are active.
	ForkState string `json:"fork_state,omitempty"`

	Branches map[string]*BranchState `json:"branches,omitempty"`

	// History is the append-only event log. Events are only ever appended,
	// never rewritten; deep resume is a pure fold over this log.
	History []HistoryEvent `json:"history,omitempty"`

	// RoundRobin is the router cursor for the round_robin strategy. It lives
	// here, not in the router, so routing stays deterministic across
	// snapshot/restore.
	RoundRobin int `json:"round_robin,omitempty"`

	Interrupted     bool   `json:"interrupted,omitempty"`
	InterruptState  string `json:"interrupt_state,omitempty"`
	InterruptBranch string `json:"interrupt_branch,omitempty"`
}

// ActiveBranches returns the ids of active branches in lexical order.
func (d *DAGContext) ActiveBranches() []string {
	var ids []string
	for id, b := range d.Branches {
		if b.Status == BranchActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Branch returns the state of one branch.
func (d *DAGContext) Branch(id string) (*BranchState, bool) {
	b, ok := d.Branches[id]
	return b, ok
}

// EnterFired reports whether an enter_state event for the given state was
// already recorded. Used to keep on_enter actions idempotent across resume.
func (d *DAGContext) EnterFired(state string) bool {
	for _, ev := range d.History {
		if ev.Kind == EventEnterState && ev.State == state {
			return true
		}
	}
	return false
}

// ConversationContext is the per-conversation mutable record. It is owned by
// exactly one turn at a time; callers must serialize turns per conversation.
type ConversationContext struct {
	ID            string         `json:"id"`
	Flow          string         `json:"flow"`
	CurrentState  string         `json:"current_state"`
	Phase         string         `json:"phase,omitempty"`
	TurnCount     int            `json:"turn_count"`
	CollectedData map[string]any `json:"collected_data"`
	DAG           DAGContext     `json:"dag"`
}

// NewConversation creates a fresh context positioned at the flow's entry
// state.
func NewConversation(id, flow, entry string) *ConversationContext {
	return &ConversationContext{
		ID:            id,
		Flow:          flow,
		CurrentState:  entry,
		CollectedData: make(map[string]any),
	}
}

// Merge accumulates extracted data into collected_data. Keys accumulate
// across turns; an existing value is never overwritten with nil or an empty
// string.
func (c *ConversationContext) Merge(data map[string]any) {
	if c.CollectedData == nil {
		c.CollectedData = make(map[string]any)
	}
	for k, v := range data {
		if _, exists := c.CollectedData[k]; exists && isEmpty(v) {
			continue
		}
		c.CollectedData[k] = v
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// Clone returns a deep copy safe for independent mutation.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	next := *c
	next.CollectedData = make(map[string]any, len(c.CollectedData))
	for k, v := range c.CollectedData {
		next.CollectedData[k] = v
	}
	if c.DAG.Branches != nil {
		next.DAG.Branches = make(map[string]*BranchState, len(c.DAG.Branches))
		for id, b := range c.DAG.Branches {
			cp := *b
			next.DAG.Branches[id] = &cp
		}
	}
	if c.DAG.History != nil {
		next.DAG.History = make([]HistoryEvent, len(c.DAG.History))
		copy(next.DAG.History, c.DAG.History)
	}
	return &next
}
