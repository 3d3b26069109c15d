package token

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ConsumedStore records token IDs that have already authorized their state
// transition. Reset tokens are single-use; the store closes the replay window
// the stateless design would otherwise leave open until expiry.
type ConsumedStore interface {
	// Consume marks jti as used. It returns false when the token was already
	// consumed. Entries expire with ttl so the store does not grow unbounded.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	Close() error
}

type redisConsumedStore struct {
	client *redis.Client
	prefix string
}

// NewRedisConsumedStore constructs a Redis backed ConsumedStore.
func NewRedisConsumedStore(addr, password string, db int) (ConsumedStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisConsumedStore{client: client, prefix: "flock:consumed:"}, nil
}

func (s *redisConsumedStore) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.SetNX(ctx, s.prefix+jti, 1, ttl).Result()
}

func (s *redisConsumedStore) Close() error {
	return s.client.Close()
}

type memoryConsumedStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryConsumedStore constructs an in-process ConsumedStore for
// single-instance deployments and tests.
func NewMemoryConsumedStore() ConsumedStore {
	return &memoryConsumedStore{entries: make(map[string]time.Time)}
}

func (s *memoryConsumedStore) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expires := range s.entries {
		if now.After(expires) {
			delete(s.entries, key)
		}
	}
	if expires, ok := s.entries[jti]; ok && now.Before(expires) {
		return false, nil
	}
	s.entries[jti] = now.Add(ttl)
	return true, nil
}

func (s *memoryConsumedStore) Close() error {
	return nil
}
