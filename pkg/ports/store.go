package ports

import (
	"context"

	"github.com/pergolahq/pergola/pkg/domain"
)

// SnapshotStore persists conversation snapshots keyed by conversation ID.
// This enables durable conversations that survive process restarts.
type SnapshotStore interface {
	// Save persists the snapshot for a conversation.
	Save(ctx context.Context, conversationID string, convo *domain.ConversationContext) error

	// Load retrieves the snapshot for a conversation.
	// Returns domain.ErrConversationNotFound if it does not exist.
	Load(ctx context.Context, conversationID string) (*domain.ConversationContext, error)

	// Delete removes the snapshot for a conversation.
	Delete(ctx context.Context, conversationID string) error
}
