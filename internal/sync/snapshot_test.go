package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/driftsync/internal/remote"
)

func TestSnapshots_ReplaceAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snaps, err := NewSnapshots(s, "alice@example.com")
	require.NoError(t, err)

	records := []remote.Record{{"id": "p1"}, {"id": "p2"}}
	require.NoError(t, snaps.Replace(ctx, "profiles", records))

	got, err := snaps.Get(ctx, "profiles")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// a second Replace swaps, not merges
	require.NoError(t, snaps.Replace(ctx, "profiles", []remote.Record{{"id": "p3"}}))
	got, err = snaps.Get(ctx, "profiles")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p3", got[0]["id"])
}

func TestSnapshots_SurvivesCacheMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snaps, err := NewSnapshots(s, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, snaps.Replace(ctx, "events", []remote.Record{{"id": "e1"}}))

	// fresh instance, empty cache: must fall through to the store
	snaps2, err := NewSnapshots(s, "alice@example.com")
	require.NoError(t, err)
	got, err := snaps2.Get(ctx, "events")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0]["id"])
}

func TestSnapshots_ClearIsOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := NewSnapshots(s, "alice@example.com")
	require.NoError(t, err)
	bob, err := NewSnapshots(s, "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, alice.Replace(ctx, "notes", []remote.Record{{"id": "a"}}))
	require.NoError(t, bob.Replace(ctx, "notes", []remote.Record{{"id": "b"}}))

	require.NoError(t, alice.Clear(ctx))

	got, err := alice.Get(ctx, "notes")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = bob.Get(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, got, 1)
}
