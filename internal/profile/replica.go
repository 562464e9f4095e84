// Package profile materializes the local account read replica from consumed
// user.created facts. The broker delivers at least once, so the only write
// it exposes is an idempotent upsert keyed by account id.
package profile

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumensocial/identity/internal/events"
)

// Replica is the write interface the event consumer applies facts through.
type Replica interface {
	UpsertFromEvent(ctx context.Context, fact events.UserCreated) error
}

// PGReplica is the Postgres-backed profile replica.
type PGReplica struct {
	pool *pgxpool.Pool
}

// NewPGReplica wraps a pgx pool as a Replica.
func NewPGReplica(pool *pgxpool.Pool) *PGReplica {
	return &PGReplica{pool: pool}
}

// UpsertFromEvent inserts the profile row or overwrites it when the id
// already exists. Safe under redelivery of the same fact.
func (r *PGReplica) UpsertFromEvent(ctx context.Context, fact events.UserCreated) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (id, email, name, surname, username, is_banned, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			surname = EXCLUDED.surname,
			username = EXCLUDED.username,
			is_banned = EXCLUDED.is_banned,
			updated_at = EXCLUDED.updated_at`,
		fact.ID, fact.Email, fact.Name, fact.Surname, fact.Username, fact.IsBanned, time.Now().UTC(),
	)
	return err
}

// MemReplica is an in-memory Replica for tests and local development.
type MemReplica struct {
	mu       sync.RWMutex
	profiles map[string]events.UserCreated
}

// NewMemReplica creates an empty MemReplica.
func NewMemReplica() *MemReplica {
	return &MemReplica{profiles: make(map[string]events.UserCreated)}
}

// UpsertFromEvent inserts or overwrites the profile keyed by id.
func (r *MemReplica) UpsertFromEvent(ctx context.Context, fact events.UserCreated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[fact.ID] = fact
	return nil
}

// Get returns the stored fact for an id, if present.
func (r *MemReplica) Get(id string) (events.UserCreated, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fact, ok := r.profiles[id]
	return fact, ok
}

// Len reports how many distinct profiles are materialized.
func (r *MemReplica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}
