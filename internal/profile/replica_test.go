package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumensocial/identity/internal/events"
)

func TestMemReplicaUpsertIsIdempotent(t *testing.T) {
	r := NewMemReplica()
	ctx := context.Background()

	fact := events.UserCreated{ID: "u-1", Email: "a@b.com", Username: "ab"}

	// Redelivery of the same fact must not create a second row.
	require.NoError(t, r.UpsertFromEvent(ctx, fact))
	require.NoError(t, r.UpsertFromEvent(ctx, fact))
	require.Equal(t, 1, r.Len())

	got, ok := r.Get("u-1")
	require.True(t, ok)
	require.Equal(t, fact, got)
}

func TestMemReplicaUpsertOverwrites(t *testing.T) {
	r := NewMemReplica()
	ctx := context.Background()

	require.NoError(t, r.UpsertFromEvent(ctx, events.UserCreated{ID: "u-1", Username: "old"}))
	require.NoError(t, r.UpsertFromEvent(ctx, events.UserCreated{ID: "u-1", Username: "new", IsBanned: true}))

	got, ok := r.Get("u-1")
	require.True(t, ok)
	require.Equal(t, "new", got.Username)
	require.True(t, got.IsBanned)
	require.Equal(t, 1, r.Len())
}
