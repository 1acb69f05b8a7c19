package domain

// DecisionMeta carries routing detail alongside the decision, for callers
// that log or branch on how the turn was resolved.
type DecisionMeta struct {
	Branch        string   `json:"branch,omitempty"`
	RuleMatched   bool     `json:"rule_matched"`
	JoinSatisfied bool     `json:"join_satisfied,omitempty"`
	Interrupted   bool     `json:"interrupted,omitempty"`
	Resumed       bool     `json:"resumed,omitempty"`
	Terminal      bool     `json:"terminal,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Decision is the engine's output for one turn. It is immutable once
// returned; the caller owns generation and reply delivery.
type Decision struct {
	Action        string         `json:"action"`
	NextState     string         `json:"next_state"`
	Phase         string         `json:"phase,omitempty"`
	CollectedData map[string]any `json:"collected_data"`
	Meta          DecisionMeta   `json:"meta"`
}
