// Package session serializes access to conversation snapshots. The engine
// requires that no two turns for the same conversation run concurrently;
// the Manager upholds that invariant with per-conversation locks, optionally
// extended across processes by a distributed locker.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pergolahq/pergola/internal/logging"
	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/ports"
)

// lockTTL bounds how long a crashed process can hold a distributed lock.
const lockTTL = 30 * time.Second

// lockEntry holds the mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates snapshot access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker ports.DistributedLocker
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking across processes.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) { m.locker = locker }
}

// WithLogger configures a logger for deferred errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a session manager over the given snapshot store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(conversationID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[conversationID]
	if !exists {
		entry = &lockEntry{}
		m.locks[conversationID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and drops the entry at zero.
func (m *Manager) release(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[conversationID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, conversationID)
	}
}

// WithLock runs fn while holding the conversation's lock. When a
// distributed locker is configured, the cross-process lock is taken after
// the in-process one.
func (m *Manager) WithLock(ctx context.Context, conversationID string, fn func(ctx context.Context) error) error {
	entry := m.acquire(conversationID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(conversationID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, conversationID, lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock",
					"conversation", conversationID, "error", err)
			}
		}()
	}

	return fn(ctx)
}

// Store exposes the underlying snapshot store for callers that already
// hold the conversation lock via WithLock.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// Load retrieves an existing conversation from the store.
func (m *Manager) Load(ctx context.Context, conversationID string) (*domain.ConversationContext, error) {
	var convo *domain.ConversationContext
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		convo, err = m.store.Load(ctx, conversationID)
		return err
	})
	return convo, err
}

// LoadOrStart tries to load a conversation. If not found, it initializes a
// new one at the given entry state and persists it to reserve the ID.
func (m *Manager) LoadOrStart(ctx context.Context, conversationID, flow, entry string) (*domain.ConversationContext, error) {
	var convo *domain.ConversationContext
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		convo, err = m.store.Load(ctx, conversationID)
		if err == nil {
			return nil
		}
		if err != domain.ErrConversationNotFound {
			return fmt.Errorf("failed to check conversation existence: %w", err)
		}

		convo = domain.NewConversation(conversationID, flow, entry)
		if err := m.store.Save(ctx, conversationID, convo); err != nil {
			return fmt.Errorf("failed to initialize conversation: %w", err)
		}
		return nil
	})
	return convo, err
}

// Save persists the conversation snapshot.
func (m *Manager) Save(ctx context.Context, conversationID string, convo *domain.ConversationContext) error {
	return m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		return m.store.Save(ctx, conversationID, convo)
	})
}

// Delete removes the conversation from the store.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	return m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		return m.store.Delete(ctx, conversationID)
	})
}
