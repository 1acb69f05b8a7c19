// Package conditions provides the named-predicate registry used by flow
// rules, choice branches, and fork guards. Condition names are resolved once
// at engine construction; evaluation is a map lookup, never string dispatch
// over behavior.
package conditions

import (
	"fmt"
	"sync"

	"github.com/pergolahq/pergola/pkg/domain"
)

// Predicate is a pure function over the turn's intent, the merged collected
// data, and the parameters declared on the condition reference. Predicates
// must report unresolvable inputs (missing fields, wrong types) as a false
// match, not an error; errors are reserved for programming mistakes.
type Predicate func(intent domain.Intent, data map[string]any, params map[string]any) (bool, error)

// Registry manages the available predicates.
type Registry struct {
	mu    sync.RWMutex
	preds map[string]Predicate
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{preds: make(map[string]Predicate)}
}

// Default creates a registry preloaded with the builtin predicates.
func Default() *Registry {
	r := New()
	registerBuiltins(r)
	return r
}

// Register adds a predicate. An existing predicate with the same name is
// overwritten.
func (r *Registry) Register(name string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preds[name] = p
}

// Lookup returns the predicate registered under name.
func (r *Registry) Lookup(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.preds[name]
	return p, ok
}

// Eval evaluates a condition reference. An unknown condition name evaluates
// permissively to false so a stale reference cannot deadlock a conversation;
// load-time resolution is responsible for catching unknown names early.
func (r *Registry) Eval(ref domain.ConditionRef, intent domain.Intent, data map[string]any) (bool, error) {
	p, ok := r.Lookup(ref.Name)
	if !ok {
		return false, nil
	}
	return p(intent, data, ref.Params)
}

// Resolve checks that every condition name referenced by the flow is
// registered. Returns one error naming all unresolved conditions.
func (r *Registry) Resolve(flow *domain.FlowConfig) error {
	var missing []string
	check := func(ref *domain.ConditionRef) {
		if ref == nil {
			return
		}
		if _, ok := r.Lookup(ref.Name); !ok {
			missing = append(missing, ref.Name)
		}
	}
	for i := range flow.Interrupts {
		check(flow.Interrupts[i].When)
	}
	for _, s := range flow.States {
		for i := range s.Rules {
			check(s.Rules[i].When)
		}
		if s.Choice != nil {
			for i := range s.Choice.Branches {
				check(&s.Choice.Branches[i].When)
			}
		}
		if s.Fork != nil {
			for i := range s.Fork.Branches {
				check(s.Fork.Branches[i].When)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("unresolved conditions: %v", missing)
	}
	return nil
}
