package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/store"
)

func newTestStore(t *testing.T) *store.SqliteStore {
	t.Helper()
	s, err := store.NewSqliteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQueue_EnqueueIsDurable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := NewQueue(s, "alice@example.com")
	id, err := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1", "text": "hi"}, false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// a fresh queue instance simulates a process restart
	q2 := NewQueue(s, "alice@example.com")
	require.NoError(t, q2.Load(ctx))

	op, ok := q2.Get(id)
	require.True(t, ok)
	assert.Equal(t, OpPending, op.Status)
	assert.Equal(t, "notes", op.Table)
	assert.Equal(t, OpInsert, op.Kind)
	assert.Equal(t, 0, op.RetryCount)
}

func TestQueue_LoadFiltersByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	qAlice := NewQueue(s, "alice@example.com")
	_, err := qAlice.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1"}, false)
	require.NoError(t, err)

	qBob := NewQueue(s, "bob@example.com")
	require.NoError(t, qBob.Load(ctx))

	pending, failed, parked := qBob.Counts()
	assert.Zero(t, pending+failed+parked, "bob must not see alice's operations")
}

func TestQueue_LoadDemotesInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := NewQueue(s, "alice@example.com")
	id, err := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1"}, false)
	require.NoError(t, err)
	require.NoError(t, q.MarkInProgress(ctx, id))

	// crash mid-call: the reloaded record must be Pending again
	q2 := NewQueue(s, "alice@example.com")
	require.NoError(t, q2.Load(ctx))

	op, ok := q2.Get(id)
	require.True(t, ok)
	assert.Equal(t, OpPending, op.Status)
}

func TestQueue_ProcessableOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := NewQueue(s, "alice@example.com")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)}
	i := 0
	q.now = func() time.Time { ts := stamps[i]; i++; return ts }

	id3, _ := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "c"}, false)
	id1, _ := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "a"}, false)
	id2, _ := q.Enqueue(ctx, "events", OpInsert, remote.Record{"id": "b"}, false)

	ops := q.Processable()
	require.Len(t, ops, 3)
	assert.Equal(t, []string{id1, id2, id3}, []string{ops[0].ID, ops[1].ID, ops[2].ID})

	// local-only and in-progress records are excluded
	q.now = time.Now
	localID, _ := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "d"}, true)
	require.NoError(t, q.MarkInProgress(ctx, id1))

	ops = q.Processable()
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.NotEqual(t, localID, op.ID)
		assert.NotEqual(t, id1, op.ID)
	}
}

func TestQueue_RemoveCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := NewQueue(s, "alice@example.com")
	done, _ := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "a"}, false)
	retry, _ := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "b"}, false)
	parked, _ := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "c"}, false)

	require.NoError(t, q.MarkCompleted(ctx, done))
	require.NoError(t, q.MarkFailed(ctx, retry, errors.New("boom")))
	for i := 0; i < maxRetryCount; i++ {
		require.NoError(t, q.MarkFailed(ctx, parked, errors.New("down")))
	}

	require.NoError(t, q.RemoveCompleted(ctx))

	_, ok := q.Get(done)
	assert.False(t, ok, "completed records are dropped")

	retryOp, ok := q.Get(retry)
	require.True(t, ok)
	assert.Equal(t, OpPending, retryOp.Status, "failed under the ceiling is requeued")
	assert.Equal(t, 1, retryOp.RetryCount)

	parkedOp, ok := q.Get(parked)
	require.True(t, ok)
	assert.Equal(t, OpFailed, parkedOp.Status, "parked records stay failed")
	assert.True(t, parkedOp.Parked())
	assert.Equal(t, "down", parkedOp.LastError)
}

func TestQueue_ClearDropsPersistedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := NewQueue(s, "alice@example.com")
	_, err := q.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "a"}, false)
	require.NoError(t, err)
	require.NoError(t, q.Clear(ctx))

	q2 := NewQueue(s, "alice@example.com")
	require.NoError(t, q2.Load(ctx))
	pending, failed, parked := q2.Counts()
	assert.Zero(t, pending+failed+parked)
}

func TestQueue_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := NewQueue(s, "alice@example.com")
	id, _ := q.Enqueue(ctx, "notes", OpUpdate, remote.Record{"text": "oops"}, false)
	require.NoError(t, q.MarkFailed(ctx, id, errors.New("record has no identifier field")))

	errs := q.Errors()
	assert.Equal(t, "record has no identifier field", errs[id])
}
