// Package memory provides an in-memory snapshot store, suitable for tests
// and single-process deployments without durability requirements.
package memory

import (
	"context"
	"sync"

	"github.com/pergolahq/pergola/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.ConversationContext
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.ConversationContext),
	}
}

// Save persists a deep copy of the snapshot, isolating the store from later
// caller mutation.
func (s *Store) Save(ctx context.Context, conversationID string, convo *domain.ConversationContext) error {
	cp := convo.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conversationID] = cp
	return nil
}

// Load retrieves a copy of the snapshot. Callers own the returned context
// and cannot mutate store state through it.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convo, ok := s.data[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return convo.Clone(), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List returns the ids of stored conversations.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
