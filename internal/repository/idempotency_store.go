package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which ticket a retried write already produced.
type IdempotencyStore interface {
	// Reserve binds key to ticketID unless the key is already bound. It returns
	// the bound ticket id and whether this call created the binding.
	Reserve(ctx context.Context, key, ticketID string, ttl time.Duration) (string, bool, error)
	// Release drops a binding whose write did not complete.
	Release(ctx context.Context, key string) error
}

type redisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore stores keys in Redis with SET NX.
func NewRedisIdempotencyStore(client *redis.Client, prefix string) IdempotencyStore {
	return &redisIdempotencyStore{client: client, prefix: prefix}
}

func (s *redisIdempotencyStore) Reserve(ctx context.Context, key, ticketID string, ttl time.Duration) (string, bool, error) {
	fullKey := s.prefix + key
	ok, err := s.client.SetNX(ctx, fullKey, ticketID, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return ticketID, true, nil
	}
	existing, err := s.client.Get(ctx, fullKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Reserve(ctx, key, ticketID, ttl)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

type idempotencyEntry struct {
	ticketID  string
	expiresAt time.Time
}

// idempotencySweepInterval bounds how often Reserve scans for expired keys.
const idempotencySweepInterval = time.Minute

type memoryIdempotencyStore struct {
	mu        sync.Mutex
	entries   map[string]idempotencyEntry
	now       func() time.Time
	nextSweep time.Time
}

// NewMemoryIdempotencyStore keeps keys in process memory.
func NewMemoryIdempotencyStore(now func() time.Time) IdempotencyStore {
	if now == nil {
		now = time.Now
	}
	return &memoryIdempotencyStore{entries: make(map[string]idempotencyEntry), now: now}
}

func (s *memoryIdempotencyStore) Reserve(_ context.Context, key, ticketID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(idempotencySweepInterval)
	}
	if entry, ok := s.entries[key]; ok && !entry.expired(now) {
		return entry.ticketID, false, nil
	}
	entry := idempotencyEntry{ticketID: ticketID}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.entries[key] = entry
	return ticketID, true, nil
}

func (s *memoryIdempotencyStore) sweep(now time.Time) {
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

func (e idempotencyEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (s *memoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
