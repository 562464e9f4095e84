// Package session is the Redis adapter for server-revocable sessions. The
// session identifier (jti) embedded in each access token is the cache key;
// presence of the key is the source of truth for token liveness, which is
// what allows revocation that a pure signature check cannot provide.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned on any cache miss. Callers treat it as
	// "not authenticated" and must not distinguish expired from never-issued.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRedisUnavailable indicates the session backend is unreachable.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Descriptor is the per-session record stored under the jti key.
type Descriptor struct {
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Store persists session descriptors in Redis with per-key expiry. Cleanup
// relies entirely on the store's native TTL; there is no background sweeper.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session Store. prefix defaults to "session".
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "session"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(jti string) string {
	return s.prefix + ":" + jti
}

// Put writes (or overwrites) the descriptor under the jti key, always
// refreshing the TTL.
func (s *Store) Put(ctx context.Context, jti string, desc *Descriptor, ttl time.Duration) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(jti), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves the descriptor for a jti. A miss yields ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, jti string) (*Descriptor, error) {
	data, err := s.redis.Get(ctx, s.key(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Delete removes the session. Deleting an absent jti is not an error; logout
// must be idempotent.
func (s *Store) Delete(ctx context.Context, jti string) error {
	if err := s.redis.Del(ctx, s.key(jti)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Touch updates the descriptor's last-activity timestamp without extending
// the key's TTL, preserving the absolute session lifetime. The rewrite is
// existence-conditional (SET XX KEEPTTL): a revocation racing an in-flight
// request must win, so Touch can never recreate a deleted session.
func (s *Store) Touch(ctx context.Context, jti string, at time.Time) error {
	desc, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}
	desc.LastActivity = at

	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}

	err = s.redis.SetArgs(ctx, s.key(jti), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
