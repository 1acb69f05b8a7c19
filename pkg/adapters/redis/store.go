// Package redis provides a Redis-backed snapshot store and a distributed
// lock for serializing turns per conversation across processes.
package redis

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/pergolahq/pergola/pkg/domain"
)

// Store implements ports.SnapshotStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets the expiration for conversation snapshots.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix for snapshots.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Redis store from connection parameters.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "pergola:conversation:",
		ttl:    0, // no expiration by default
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the snapshot and tracks it in a ZSET index scored by expiry.
func (s *Store) Save(ctx context.Context, conversationID string, convo *domain.ConversationContext) error {
	data, err := domain.Serialize(convo)
	if err != nil {
		return fmt.Errorf("failed to serialize conversation: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(conversationID), data, s.ttl)

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01, effectively never
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: conversationID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the snapshot.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.ConversationContext, error) {
	val, err := s.client.Get(ctx, s.key(conversationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return domain.Deserialize([]byte(val))
}

// Delete removes the snapshot and its index entry.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(conversationID))
	pipe.ZRem(ctx, s.indexKey(), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// List returns tracked conversation ids from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return ids, nil
}

// Client exposes the underlying Redis client so callers can share the
// connection, e.g. with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
