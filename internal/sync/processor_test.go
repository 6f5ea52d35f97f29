package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/driftsync/internal/bus"
	"github.com/driftlock/driftsync/internal/netmon"
	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/store"
)

type procFixture struct {
	store   *store.SqliteStore
	queue   *Queue
	ledger  *Ledger
	adapter *fakeAdapter
	net     *netmon.Monitor
	bus     *bus.Bus
	proc    *Processor
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()
	s := newTestStore(t)
	f := &procFixture{
		store:   s,
		queue:   NewQueue(s, "alice@example.com"),
		ledger:  NewLedger(s, "alice@example.com"),
		adapter: newFakeAdapter(),
		net:     netmon.New(),
		bus:     bus.New(),
	}
	// park the retry timer far away so it cannot fire mid-test
	f.proc = NewProcessor(f.queue, f.adapter, f.net, f.ledger, f.bus,
		WithRetrySchedule(time.Hour, time.Hour))
	t.Cleanup(func() {
		f.proc.Stop()
		f.bus.Close()
	})
	return f
}

func TestProcessor_FIFOOrder(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}
	i := 0
	f.queue.now = func() time.Time { ts := stamps[i]; i++; return ts }

	_, err := f.queue.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "first"}, false)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "events", OpUpdate, remote.Record{"id": "second"}, false)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "notes", OpDelete, remote.Record{"id": "third"}, false)
	require.NoError(t, err)

	require.NoError(t, f.proc.RunPass(ctx))

	assert.Equal(t, []string{
		"insert:notes:first",
		"update:events:second",
		"delete:notes:third",
	}, f.adapter.callLog())

	pending, failed, parked := f.queue.Counts()
	assert.Zero(t, pending+failed+parked, "all operations drained")
}

func TestProcessor_OfflineIsNoop(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	f.net.SetOnline(false)

	_, err := f.queue.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1"}, false)
	require.NoError(t, err)

	require.NoError(t, f.proc.RunPass(ctx))

	assert.Empty(t, f.adapter.callLog())
	pending, _, _ := f.queue.Counts()
	assert.Equal(t, 1, pending)
}

func TestProcessor_FailureRetriesThenParks(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	f.adapter.failTable("notes", &remote.TransportError{Table: "notes", Op: "insert", Err: errors.New("503")})

	id, err := f.queue.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1"}, false)
	require.NoError(t, err)

	for attempt := 1; attempt <= maxRetryCount; attempt++ {
		require.NoError(t, f.proc.RunPass(ctx))
		op, ok := f.queue.Get(id)
		require.True(t, ok)
		assert.Equal(t, attempt, op.RetryCount)
		assert.Contains(t, op.LastError, "503")
		if attempt < maxRetryCount {
			assert.Equal(t, OpPending, op.Status, "requeued while retries remain")
		} else {
			assert.Equal(t, OpFailed, op.Status)
			assert.True(t, op.Parked())
		}
	}

	// parked operations are never resubmitted
	callsBefore := len(f.adapter.callLog())
	require.NoError(t, f.proc.RunPass(ctx))
	assert.Len(t, f.adapter.callLog(), callsBefore)
}

func TestProcessor_MissingIdentifierReportedNotDropped(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	id, err := f.queue.Enqueue(ctx, "notes", OpUpdate, remote.Record{"text": "oops"}, false)
	require.NoError(t, err)

	require.NoError(t, f.proc.RunPass(ctx))

	op, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, op.RetryCount)
	assert.Contains(t, op.LastError, "identifier")
	assert.Empty(t, f.adapter.callLog(), "validation failure never hits the adapter transport")
}

func TestProcessor_LocalOnlyNeverTransmitted(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, "drafts", OpInsert, remote.Record{"id": "d1"}, true)
	require.NoError(t, err)

	require.NoError(t, f.proc.RunPass(ctx))

	assert.Empty(t, f.adapter.callLog())
	pending, _, _ := f.queue.Counts()
	assert.Equal(t, 1, pending, "local-only record stays tracked")
}

func TestProcessor_AdvancesLedgerForCompletedTables(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	f.adapter.failTable("events", &remote.TransportError{Table: "events", Op: "insert", Err: errors.New("down")})

	_, err := f.queue.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1"}, false)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "events", OpInsert, remote.Record{"id": "e1"}, false)
	require.NoError(t, err)

	before := time.Now().UTC()
	require.NoError(t, f.proc.RunPass(ctx))

	notesTS, ok := f.ledger.Checkpoint("notes")
	require.True(t, ok)
	assert.False(t, notesTS.Before(before.Truncate(time.Second)))

	_, ok = f.ledger.Checkpoint("events")
	assert.False(t, ok, "failed table must not advance")
}

func TestProcessor_SinglePassMutualExclusion(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	blocking := &blockingAdapter{inner: f.adapter, release: release}
	f.proc.adapter = blocking

	_, err := f.queue.Enqueue(ctx, "notes", OpInsert, remote.Record{"id": "n1"}, false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.proc.RunPass(ctx) }()

	require.Eventually(t, f.proc.Running, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.proc.RunPass(ctx), ErrPassAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

// blockingAdapter holds the first call until release is closed.
type blockingAdapter struct {
	inner   remote.Adapter
	release chan struct{}
}

func (b *blockingAdapter) Insert(ctx context.Context, table string, record remote.Record) error {
	<-b.release
	return b.inner.Insert(ctx, table, record)
}

func (b *blockingAdapter) Update(ctx context.Context, table string, record remote.Record) error {
	return b.inner.Update(ctx, table, record)
}

func (b *blockingAdapter) Delete(ctx context.Context, table string, id string) error {
	return b.inner.Delete(ctx, table, id)
}

func (b *blockingAdapter) List(ctx context.Context, table, owner string, updatedAfter time.Time) ([]remote.Record, error) {
	return b.inner.List(ctx, table, owner, updatedAfter)
}
