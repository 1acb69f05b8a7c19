package runtime

import "github.com/pergolahq/pergola/pkg/domain"

// satisfied reports whether the join condition holds given the current
// branch map. It is idempotent: it inspects recorded branch status only and
// performs no mutation, so calling it again after satisfaction keeps
// returning true without side effects.
//
// Participation counts branches that were actually spawned; a branch whose
// activation guard kept it from spawning does not block an all_complete
// join. Abandoned branches never count toward satisfaction.
func satisfied(join *domain.JoinSpec, branches map[string]*domain.BranchState) bool {
	total := 0
	completed := 0
	for _, id := range join.Branches {
		b, ok := branches[id]
		if !ok || b.Status == domain.BranchAbandoned {
			continue
		}
		total++
		if b.Status == domain.BranchCompleted {
			completed++
		}
	}

	switch join.Strategy {
	case domain.SyncAnyComplete:
		return completed >= 1
	case domain.SyncMajority:
		// Strictly more than half; ties round up to the next whole branch.
		return total > 0 && completed*2 > total
	default: // all_complete
		return completed == total
	}
}
