package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	stdsync "sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/store"
)

// storeKeyQueue is shared across owners; Load filters to the active owner
// and sign-out clears the key entirely.
const storeKeyQueue = "syncQueue"

// Queue is the ordered, persisted set of not-yet-confirmed mutations for one
// owner. The whole collection is written back on every mutating call so a
// crash immediately after any mutation loses nothing.
type Queue struct {
	store store.Store
	owner string

	// now is swappable in tests to force distinct CreatedAt values
	now func() time.Time

	mu  stdsync.Mutex
	ops []*Operation
}

func NewQueue(s store.Store, owner string) *Queue {
	return &Queue{store: s, owner: owner, now: time.Now}
}

// Load reads the persisted collection and retains only this owner's records.
// Records left InProgress by a crash mid-call are demoted to Pending so they
// cannot wedge future passes.
func (q *Queue) Load(ctx context.Context) error {
	data, ok, err := q.store.Get(ctx, storeKeyQueue)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if !ok {
		return nil
	}

	var all []*Operation
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decode queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = q.ops[:0]
	for _, op := range all {
		if op.Owner != q.owner {
			continue
		}
		if op.Status == OpInProgress {
			op.Status = OpPending
		}
		q.ops = append(q.ops, op)
	}
	return nil
}

// Enqueue appends a fresh Pending operation and persists before returning.
// The operation stays queued in memory even if persistence fails; the error
// is returned alongside the id so the caller can log it.
func (q *Queue) Enqueue(ctx context.Context, table string, kind OpKind, record remote.Record, localOnly bool) (string, error) {
	op := &Operation{
		ID:        uuid.NewString(),
		Table:     table,
		Kind:      kind,
		Record:    record,
		CreatedAt: q.now(),
		Owner:     q.owner,
		Status:    OpPending,
		LocalOnly: localOnly,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	return op.ID, q.save(ctx)
}

// Processable returns copies of the records a pass may transmit, sorted by
// creation time ascending. FIFO across the whole queue, best-effort causal
// order only; not a cross-table linearizability guarantee.
func (q *Queue) Processable() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.LocalOnly || op.Status == OpCompleted || op.Status == OpInProgress {
			continue
		}
		if op.Parked() {
			continue
		}
		out = append(out, *op)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkInProgress transitions Pending -> InProgress and persists.
func (q *Queue) MarkInProgress(ctx context.Context, id string) error {
	return q.mutate(ctx, id, func(op *Operation) {
		op.Status = OpInProgress
	})
}

// MarkCompleted transitions InProgress -> Completed and persists.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.mutate(ctx, id, func(op *Operation) {
		op.Status = OpCompleted
		op.LastError = ""
	})
}

// MarkFailed transitions InProgress -> Failed, bumps the retry count and
// records the diagnostic.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	return q.mutate(ctx, id, func(op *Operation) {
		op.Status = OpFailed
		op.RetryCount++
		op.LastError = cause.Error()
	})
}

func (q *Queue) mutate(ctx context.Context, id string, fn func(*Operation)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.ID == id {
			fn(op)
			return q.save(ctx)
		}
	}
	return fmt.Errorf("operation %s not in queue", id)
}

// RemoveCompleted drops Completed records and requeues retryable failures.
// Parked records stay Failed until external intervention.
func (q *Queue) RemoveCompleted(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	for _, op := range q.ops {
		switch {
		case op.Status == OpCompleted:
			continue
		case op.Status == OpFailed && !op.Parked():
			op.Status = OpPending
		}
		kept = append(kept, op)
	}
	q.ops = kept
	return q.save(ctx)
}

// Clear drops everything, memory and persisted. Called on sign-out.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = nil
	if err := q.store.Delete(ctx, storeKeyQueue); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Counts returns the pending, failed-retryable and parked totals.
func (q *Queue) Counts() (pending, failed, parked int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		switch {
		case op.Parked():
			parked++
		case op.Status == OpFailed:
			failed++
		case op.Status == OpPending || op.Status == OpInProgress:
			pending++
		}
	}
	return
}

// HasRetryable reports whether another pass still has work to do.
func (q *Queue) HasRetryable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.Retryable() {
			return true
		}
	}
	return false
}

// Errors returns the last diagnostic per operation id. Requeued failures keep
// their diagnostic until they complete.
func (q *Queue) Errors() map[string]string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]string)
	for _, op := range q.ops {
		if op.LastError != "" {
			out[op.ID] = op.LastError
		}
	}
	return out
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.ID == id {
			return *op, true
		}
	}
	return Operation{}, false
}

// save writes the full collection back. Caller holds q.mu.
func (q *Queue) save(ctx context.Context) error {
	data, err := json.Marshal(q.ops)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Set(ctx, storeKeyQueue, data); err != nil {
		// in-memory bookkeeping proceeds; persisted view may lag until the
		// next successful save
		slog.Warn("queue persist failed", "owner", q.owner, "error", err)
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
