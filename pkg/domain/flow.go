package domain

import "fmt"

// NodeType classifies how a state routes control flow.
type NodeType string

const (
	// NodeNone is an ordinary rule-driven state.
	NodeNone NodeType = "none"
	// NodeChoice routes to exactly one successor, evaluated on entry.
	NodeChoice NodeType = "choice"
	// NodeFork activates parallel branches, evaluated on entry.
	NodeFork NodeType = "fork"
	// NodeJoin synchronizes branches spawned by a fork.
	NodeJoin NodeType = "join"
	// NodeParallel is sugar for a fork with an implicit all-complete join.
	NodeParallel NodeType = "parallel"
)

// RouteStrategy selects how the branch router breaks ambiguity when the
// intent-to-branch mapping does not determine a branch.
type RouteStrategy string

const (
	RoutePriority   RouteStrategy = "priority"
	RouteRoundRobin RouteStrategy = "round_robin"
	RouteFirstMatch RouteStrategy = "first_match"
)

// SyncStrategy is the join-satisfaction policy.
type SyncStrategy string

const (
	SyncAllComplete SyncStrategy = "all_complete"
	SyncAnyComplete SyncStrategy = "any_complete"
	SyncMajority    SyncStrategy = "majority"
)

// ResumeStrategy controls how an interrupted conversation is restored.
type ResumeStrategy string

const (
	// ResumeShallow re-enters the state active at interruption, discarding
	// nested sub-progress.
	ResumeShallow ResumeStrategy = "shallow"
	// ResumeDeep replays the history log to restore the exact
	// branch-activity map.
	ResumeDeep ResumeStrategy = "deep"
)

// ConditionRef names a registered predicate together with the parameters it
// is evaluated with. Unresolvable references never match; they are not
// errors at evaluation time.
type ConditionRef struct {
	Name   string         `json:"name" yaml:"name" mapstructure:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:",remain"`
}

// Rule is one priority-ordered transition entry. Lower priority number wins;
// ties resolve by declaration order.
type Rule struct {
	Priority int           `json:"priority" yaml:"priority"`
	Intent   string        `json:"intent,omitempty" yaml:"intent,omitempty"` // empty matches any intent
	When     *ConditionRef `json:"when,omitempty" yaml:"when,omitempty"`
	Action   string        `json:"action,omitempty" yaml:"action,omitempty"` // literal, or "$var" reference
	Target   string        `json:"target,omitempty" yaml:"target,omitempty"` // empty keeps the current state
}

// ChoiceBranch is one {condition, target} pair of a choice node.
type ChoiceBranch struct {
	When   ConditionRef `json:"when" yaml:"when"`
	Target string       `json:"target" yaml:"target"`
}

// ChoiceSpec configures an exclusive-branch node. Branches are evaluated in
// listed order; the first true condition wins.
type ChoiceSpec struct {
	Branches []ChoiceBranch `json:"branches" yaml:"branches"`
	Default  string         `json:"default,omitempty" yaml:"default,omitempty"`
}

// BranchDef declares one region activated by a fork.
type BranchDef struct {
	ID       string        `json:"id" yaml:"id"`
	StartAt  string        `json:"start_at" yaml:"start_at"`
	Priority int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Intents  []string      `json:"intents,omitempty" yaml:"intents,omitempty"`
	When     *ConditionRef `json:"when,omitempty" yaml:"when,omitempty"` // nil activates unconditionally
}

// ForkSpec configures a parallel-activation node.
type ForkSpec struct {
	Branches []BranchDef       `json:"branches" yaml:"branches"`
	JoinAt   string            `json:"join_at" yaml:"join_at"`
	Mapping  map[string]string `json:"mapping,omitempty" yaml:"mapping,omitempty"` // intent -> branch id
	Strategy RouteStrategy     `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// JoinSpec configures a synchronization point.
type JoinSpec struct {
	Strategy SyncStrategy `json:"strategy" yaml:"strategy"`
	Branches []string     `json:"branches" yaml:"branches"`
}

// ParallelSpec is a compound state holding independent regions. Normalize
// rewrites it into a fork plus an implicit all-complete join at ExitAt.
type ParallelSpec struct {
	Regions []BranchDef `json:"regions" yaml:"regions"`
	ExitAt  string      `json:"exit_at" yaml:"exit_at"`
}

// StateDef is one named state of a flow. Definitions are immutable after
// load; the engine mutates ConversationContext, never StateDef.
type StateDef struct {
	Name     string        `json:"name" yaml:"name"`
	Phase    string        `json:"phase,omitempty" yaml:"phase,omitempty"`
	Goal     string        `json:"goal,omitempty" yaml:"goal,omitempty"`
	OnEnter  string        `json:"on_enter,omitempty" yaml:"on_enter,omitempty"`
	Default  string        `json:"default,omitempty" yaml:"default,omitempty"` // fallback action on rule no-match
	Terminal bool          `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Node     NodeType      `json:"node,omitempty" yaml:"node,omitempty"`
	Rules    []Rule        `json:"rules,omitempty" yaml:"rules,omitempty"`
	Choice   *ChoiceSpec   `json:"choice,omitempty" yaml:"choice,omitempty"`
	Fork     *ForkSpec     `json:"fork,omitempty" yaml:"fork,omitempty"`
	Join     *JoinSpec     `json:"join,omitempty" yaml:"join,omitempty"`
	Parallel *ParallelSpec `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// FlowConfig is the fully-resolved description of one flow. It is produced
// by a loader, validated once, and shared read-only across conversations.
type FlowConfig struct {
	Name       string               `json:"name" yaml:"name"`
	Version    string               `json:"version,omitempty" yaml:"version,omitempty"`
	Entry      string               `json:"entry" yaml:"entry"`
	Resume     ResumeStrategy       `json:"resume,omitempty" yaml:"resume,omitempty"`
	Variables  map[string]string    `json:"variables,omitempty" yaml:"variables,omitempty"`
	Interrupts []Rule               `json:"interrupts,omitempty" yaml:"interrupts,omitempty"`
	States     map[string]*StateDef `json:"states" yaml:"states"`
}

// State returns the definition for name.
func (f *FlowConfig) State(name string) (*StateDef, bool) {
	s, ok := f.States[name]
	return s, ok
}

// Var resolves a flow variable.
func (f *FlowConfig) Var(name string) (string, bool) {
	v, ok := f.Variables[name]
	return v, ok
}

// NodeOf returns the node type of a state, defaulting to NodeNone.
func (f *FlowConfig) NodeOf(name string) NodeType {
	s, ok := f.States[name]
	if !ok || s.Node == "" {
		return NodeNone
	}
	return s.Node
}

// Normalize fills defaults and desugars parallel nodes into fork/join pairs.
// It is idempotent and must run before Validate.
func (f *FlowConfig) Normalize() {
	if f.Resume == "" {
		f.Resume = ResumeShallow
	}
	for name, s := range f.States {
		if s.Name == "" {
			s.Name = name
		}
		if s.Node == "" {
			s.Node = NodeNone
		}
		if s.Node == NodeParallel && s.Parallel != nil {
			ids := make([]string, 0, len(s.Parallel.Regions))
			for _, r := range s.Parallel.Regions {
				ids = append(ids, r.ID)
			}
			s.Node = NodeFork
			s.Fork = &ForkSpec{
				Branches: s.Parallel.Regions,
				JoinAt:   s.Parallel.ExitAt,
				Strategy: RouteFirstMatch,
			}
			if exit, ok := f.States[s.Parallel.ExitAt]; ok && exit.Join == nil {
				exit.Node = NodeJoin
				exit.Join = &JoinSpec{Strategy: SyncAllComplete, Branches: ids}
			}
			s.Parallel = nil
		}
		if s.Node == NodeFork && s.Fork != nil && s.Fork.Strategy == "" {
			s.Fork.Strategy = RouteFirstMatch
		}
	}
}

// Validate checks all cross-references of the flow. Violations are fatal:
// a flow that fails validation must not serve any conversation.
func (f *FlowConfig) Validate() error {
	var issues []string
	fail := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if f.Name == "" {
		fail("flow name is required")
	}
	if _, ok := f.States[f.Entry]; !ok {
		fail("entry state %q does not exist", f.Entry)
	}
	switch f.Resume {
	case "", ResumeShallow, ResumeDeep:
	default:
		fail("unknown resume strategy %q", f.Resume)
	}
	for i, r := range f.Interrupts {
		if r.Target == "" {
			fail("interrupt rule %d has no target", i)
		} else if _, ok := f.States[r.Target]; !ok {
			fail("interrupt rule %d targets unknown state %q", i, r.Target)
		}
	}

	for name, s := range f.States {
		for i, r := range s.Rules {
			if r.Target != "" {
				if _, ok := f.States[r.Target]; !ok {
					fail("state %q rule %d targets unknown state %q", name, i, r.Target)
				}
			}
		}

		switch s.Node {
		case NodeNone, NodeJoin, NodeChoice, NodeFork, NodeParallel:
		default:
			fail("state %q has unknown node type %q", name, s.Node)
		}

		if s.Node == NodeChoice {
			if s.Choice == nil || len(s.Choice.Branches) == 0 {
				fail("choice state %q declares no branches", name)
				continue
			}
			for i, b := range s.Choice.Branches {
				if b.When.Name == "" {
					fail("choice state %q branch %d has no condition name", name, i)
				}
				if _, ok := f.States[b.Target]; !ok {
					fail("choice state %q branch %d targets unknown state %q", name, i, b.Target)
				}
			}
			if s.Choice.Default != "" {
				if _, ok := f.States[s.Choice.Default]; !ok {
					fail("choice state %q default targets unknown state %q", name, s.Choice.Default)
				}
			}
		}

		if s.Node == NodeFork {
			if s.Fork == nil || len(s.Fork.Branches) == 0 {
				fail("fork state %q declares no branches", name)
				continue
			}
			seen := map[string]bool{}
			for _, b := range s.Fork.Branches {
				if b.ID == "" {
					fail("fork state %q has a branch without id", name)
					continue
				}
				if seen[b.ID] {
					fail("fork state %q declares branch %q twice", name, b.ID)
				}
				seen[b.ID] = true
				if _, ok := f.States[b.StartAt]; !ok {
					fail("fork state %q branch %q starts at unknown state %q", name, b.ID, b.StartAt)
				}
			}
			join, ok := f.States[s.Fork.JoinAt]
			if !ok {
				fail("fork state %q joins at unknown state %q", name, s.Fork.JoinAt)
			} else if join.Node != NodeJoin || join.Join == nil {
				fail("fork state %q joins at %q, which is not a join state", name, s.Fork.JoinAt)
			}
			for intent, id := range s.Fork.Mapping {
				if !seen[id] {
					fail("fork state %q maps intent %q to unknown branch %q", name, intent, id)
				}
			}
			switch s.Fork.Strategy {
			case "", RoutePriority, RouteRoundRobin, RouteFirstMatch:
			default:
				fail("fork state %q has unknown route strategy %q", name, s.Fork.Strategy)
			}
		}

		if s.Node == NodeJoin {
			if s.Join == nil {
				fail("join state %q has no join spec", name)
				continue
			}
			switch s.Join.Strategy {
			case SyncAllComplete, SyncAnyComplete, SyncMajority:
			default:
				fail("join state %q has unknown sync strategy %q", name, s.Join.Strategy)
			}
			if len(s.Join.Branches) == 0 {
				fail("join state %q lists no participating branches", name)
			}
		}
	}

	if len(issues) > 0 {
		return &ConfigurationError{Flow: f.Name, Issues: issues}
	}
	return nil
}
