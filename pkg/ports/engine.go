package ports

import (
	"context"

	"github.com/pergolahq/pergola/pkg/domain"
)

// TurnEngine is the contract adapters (HTTP, MCP, CLI) use to drive a
// conversation. Implementations are stateless with respect to storage: the
// caller supplies the conversation context and owns persisting the mutation.
type TurnEngine interface {
	// ProcessTurn resolves one turn deterministically. It mutates the given
	// conversation context and returns the decision for the turn.
	ProcessTurn(ctx context.Context, convo *domain.ConversationContext, intent domain.Intent) (*domain.Decision, error)

	// Resume restores an interrupted conversation to its last coherent
	// point, per the flow's configured resume strategy.
	Resume(ctx context.Context, convo *domain.ConversationContext) (*domain.Decision, error)

	// Inspect returns the resolved state definitions for introspection.
	Inspect() []domain.StateDef
}
