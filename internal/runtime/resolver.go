package runtime

import (
	"sort"
	"strings"

	"github.com/pergolahq/pergola/pkg/conditions"
	"github.com/pergolahq/pergola/pkg/domain"
)

// Resolution is the outcome of a successful rule match.
type Resolution struct {
	Action string
	Target string
	Rule   domain.Rule
}

// Resolver walks a priority-ordered rule list and returns the single winning
// entry. It is a pure function of its inputs: context mutation happens in
// the engine after resolution, which keeps the resolver independently
// testable.
type Resolver struct {
	registry *conditions.Registry
	vars     map[string]string
}

// NewResolver creates a resolver bound to a condition registry and the
// flow's variable table.
func NewResolver(registry *conditions.Registry, vars map[string]string) *Resolver {
	return &Resolver{registry: registry, vars: vars}
}

// Resolve iterates rules in ascending priority order and applies the first
// match. Ties at the same priority resolve by declaration order. A rule
// whose condition cannot be evaluated in the current context is treated as
// non-matching, never as an error. ok is false when no rule matches; the
// caller falls back to the state's configured default action.
func (r *Resolver) Resolve(rules []domain.Rule, intent domain.Intent, data map[string]any) (Resolution, bool) {
	order := make([]int, len(rules))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rules[order[a]].Priority < rules[order[b]].Priority
	})

	for _, i := range order {
		rule := rules[i]
		if rule.Intent != "" && rule.Intent != intent.Name {
			continue
		}
		if rule.When != nil {
			ok, err := r.registry.Eval(*rule.When, intent, data)
			if err != nil || !ok {
				continue
			}
		}
		return Resolution{
			Action: r.expand(rule.Action),
			Target: rule.Target,
			Rule:   rule,
		}, true
	}
	return Resolution{}, false
}

// expand substitutes "$name" action references from the flow variables.
// Unknown references pass through literally.
func (r *Resolver) expand(action string) string {
	if !strings.HasPrefix(action, "$") {
		return action
	}
	if v, ok := r.vars[strings.TrimPrefix(action, "$")]; ok {
		return v
	}
	return action
}
