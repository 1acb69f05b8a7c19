package runtime

import (
	"slices"

	"github.com/pergolahq/pergola/pkg/domain"
)

// routeResult is the branch router's verdict for one turn.
type routeResult struct {
	BranchID string
	Cursor   int  // updated round-robin cursor, persisted by the engine
	Warned   bool // true when routing fell back to the lowest-id branch
}

// route decides which active branch handles the current turn.
//
// Resolution order: the explicit intent-to-branch mapping first, then the
// fork's configured strategy, then the fail-safe fallback (lowest-id active
// branch plus a warning). Routing never hard-fails while a branch is active.
// The function is pure apart from the round-robin cursor, which is owned by
// the DAG context and passed through here.
func route(fork *domain.ForkSpec, dag *domain.DAGContext, intent domain.Intent) routeResult {
	active := dag.ActiveBranches()
	cursor := dag.RoundRobin
	if len(active) == 0 {
		return routeResult{Cursor: cursor}
	}

	if id, ok := fork.Mapping[intent.Name]; ok && slices.Contains(active, id) {
		return routeResult{BranchID: id, Cursor: cursor}
	}

	switch fork.Strategy {
	case domain.RouteRoundRobin:
		// Deterministic cycle across successive ambiguous turns.
		id := active[cursor%len(active)]
		return routeResult{BranchID: id, Cursor: cursor + 1}

	case domain.RoutePriority:
		best := ""
		bestPriority := 0
		for _, b := range fork.Branches {
			if !slices.Contains(active, b.ID) || !accepts(b, intent.Name) {
				continue
			}
			if best == "" || b.Priority < bestPriority {
				best = b.ID
				bestPriority = b.Priority
			}
		}
		if best != "" {
			return routeResult{BranchID: best, Cursor: cursor}
		}

	default: // first_match
		for _, b := range fork.Branches {
			if slices.Contains(active, b.ID) && accepts(b, intent.Name) {
				return routeResult{BranchID: b.ID, Cursor: cursor}
			}
		}
	}

	// No branch could be determined: fail safe to the lowest-id active
	// branch and let the engine log a warning event.
	return routeResult{BranchID: active[0], Cursor: cursor, Warned: true}
}

func accepts(b domain.BranchDef, intent string) bool {
	return slices.Contains(b.Intents, intent)
}

// activate evaluates fork branch guards and returns the branches that spawn
// this turn. A branch without a guard always activates.
func (e *Engine) activate(fork *domain.ForkSpec, intent domain.Intent, data map[string]any) []domain.BranchDef {
	var out []domain.BranchDef
	for _, b := range fork.Branches {
		if b.When != nil {
			ok, err := e.registry.Eval(*b.When, intent, data)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}
