package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/driftlock/driftsync/internal/bus"
	"github.com/driftlock/driftsync/internal/netmon"
	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/store"
)

// Bus topics the engine consumes and produces.
const (
	TopicAuthSignin  = "auth:user:signin"
	TopicAuthSignout = "auth:user:signout"

	TopicOpEnqueued  = "sync:op:enqueued"
	TopicOpCompleted = "sync:op:completed"
	TopicOpFailed    = "sync:op:failed"
	TopicNetOnline   = "sync:net:online"
	TopicNetOffline  = "sync:net:offline"
	TopicFullDone    = "sync:full:completed"
	TopicFullFailed  = "sync:full:failed"
)

const busSource = "driftsync"

var ErrNotInitialized = errors.New("sync engine not initialized")

// Status is the aggregate sync health surfaced to the UI.
type Status struct {
	Owner        string               `json:"owner,omitempty"`
	Online       bool                 `json:"online"`
	Processing   bool                 `json:"processing"`
	PendingCount int                  `json:"pending_count"`
	FailedCount  int                  `json:"failed_count"`
	ParkedCount  int                  `json:"parked_count"`
	Checkpoints  map[string]time.Time `json:"checkpoints,omitempty"`
	Errors       map[string]string    `json:"errors,omitempty"`
}

// session is the per-owner state. Exactly one session is active at a time;
// sign-out clears its persisted state entirely.
type session struct {
	owner     string
	queue     *Queue
	ledger    *Ledger
	snapshots *Snapshots
	proc      *Processor
}

type EngineOption func(*Engine)

// WithProcessorOptions forwards options to each session's processor.
func WithProcessorOptions(opts ...ProcessorOption) EngineOption {
	return func(e *Engine) {
		e.procOpts = opts
	}
}

// Engine composes queue, ledger, snapshots, processor and the network
// monitor behind the public sync API, and bridges them onto the event bus.
type Engine struct {
	store    store.Store
	adapter  remote.Adapter
	bus      *bus.Bus
	net      *netmon.Monitor
	procOpts []ProcessorOption

	// initMu serializes Initialize end to end; mu alone is released around
	// the previous session's teardown, and two concurrent switches could
	// otherwise overwrite a live session without stopping its processor.
	initMu stdsync.Mutex

	mu   stdsync.RWMutex
	sess *session

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
}

func NewEngine(s store.Store, adapter remote.Adapter, b *bus.Bus, net *netmon.Monitor, opts ...EngineOption) *Engine {
	e := &Engine{store: s, adapter: adapter, bus: b, net: net}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start wires the engine onto the bus and the network monitor. It does not
// begin processing; that happens on Initialize (directly or via a signin
// event).
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.net.OnChange(func(online bool) {
		if !online {
			e.bus.Publish(TopicNetOffline, busSource, nil, "connectivity")
			return
		}
		e.bus.Publish(TopicNetOnline, busSource, nil, "connectivity")
		if sess := e.session(); sess != nil && sess.queue.HasRetryable() && !sess.proc.Running() {
			sess.proc.TriggerPass(e.ctx)
		}
	})

	unsubIn, err := e.bus.Subscribe(TopicAuthSignin, func(ev bus.Event) {
		owner, _ := ev.Payload.(string)
		if owner == "" {
			slog.Warn("signin event without owner payload")
			return
		}
		if err := e.Initialize(e.ctx, owner); err != nil {
			slog.Error("initialize on signin", "owner", owner, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe signin: %w", err)
	}

	unsubOut, err := e.bus.Subscribe(TopicAuthSignout, func(ev bus.Event) {
		if err := e.SignOut(e.ctx); err != nil {
			slog.Error("teardown on signout", "error", err)
		}
	})
	if err != nil {
		unsubIn()
		return fmt.Errorf("subscribe signout: %w", err)
	}

	e.unsubs = append(e.unsubs, unsubIn, unsubOut)
	return nil
}

// Initialize loads the owner's queue and ledger and starts processing.
// Initializing a different owner first clears the previous session, same as
// a sign-out, so queues never leak across accounts.
func (e *Engine) Initialize(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("initialize: empty owner")
	}

	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	if e.sess != nil {
		if e.sess.owner == owner {
			e.mu.Unlock()
			return nil
		}
		prev := e.sess
		e.sess = nil
		e.mu.Unlock()
		e.teardown(ctx, prev)
		e.mu.Lock()
	}

	queue := NewQueue(e.store, owner)
	ledger := NewLedger(e.store, owner)
	snapshots, err := NewSnapshots(e.store, owner)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	// persistence failures here leave the session empty but usable
	if err := queue.Load(ctx); err != nil {
		slog.Warn("queue load", "owner", owner, "error", err)
	}
	if err := ledger.Load(ctx); err != nil {
		slog.Warn("ledger load", "owner", owner, "error", err)
	}

	sess := &session{
		owner:     owner,
		queue:     queue,
		ledger:    ledger,
		snapshots: snapshots,
		proc:      NewProcessor(queue, e.adapter, e.net, ledger, e.bus, e.procOpts...),
	}
	e.sess = sess
	e.mu.Unlock()

	pending, failed, parked := queue.Counts()
	slog.Info("sync engine initialized", "owner", owner, "pending", pending, "failed", failed, "parked", parked)

	if e.net.Online() && queue.HasRetryable() {
		sess.proc.TriggerPass(e.ctx)
	}
	return nil
}

// SignOut stops processing and clears the owner's queue, ledger and
// snapshots entirely. Blunt, but it is the isolation mechanism between
// users sharing a device.
func (e *Engine) SignOut(ctx context.Context) error {
	e.mu.Lock()
	sess := e.sess
	e.sess = nil
	e.mu.Unlock()

	if sess == nil {
		return nil
	}
	e.teardown(ctx, sess)
	return nil
}

func (e *Engine) teardown(ctx context.Context, sess *session) {
	sess.proc.Stop()
	if err := sess.queue.Clear(ctx); err != nil {
		slog.Warn("clear queue", "owner", sess.owner, "error", err)
	}
	if err := sess.ledger.Clear(ctx); err != nil {
		slog.Warn("clear ledger", "owner", sess.owner, "error", err)
	}
	if err := sess.snapshots.Clear(ctx); err != nil {
		slog.Warn("clear snapshots", "owner", sess.owner, "error", err)
	}
	slog.Info("sync engine signed out", "owner", sess.owner)
}

// EnqueueOperation persists a new Pending operation and triggers a pass if
// the engine is online and idle. The id is valid even when persistence
// failed; the error tells the caller durability is not guaranteed yet.
func (e *Engine) EnqueueOperation(ctx context.Context, table string, kind OpKind, record remote.Record, localOnly bool) (string, error) {
	sess := e.session()
	if sess == nil {
		return "", ErrNotInitialized
	}

	id, err := sess.queue.Enqueue(ctx, table, kind, record, localOnly)
	if err != nil {
		slog.Warn("enqueue persist", "op", id, "error", err)
	}

	e.bus.Publish(TopicOpEnqueued, busSource, map[string]any{
		"id":         id,
		"table":      table,
		"kind":       kind,
		"local_only": localOnly,
	}, "table:"+table, "kind:"+string(kind))

	if !localOnly && e.net.Online() && !sess.proc.Running() {
		sess.proc.TriggerPass(e.ctx)
	}
	return id, err
}

// FullSync pulls every record of table for the current owner updated after
// the stored checkpoint, replaces the local snapshot and advances the
// checkpoint. On failure the checkpoint is untouched so a retry re-reads
// the same window.
func (e *Engine) FullSync(ctx context.Context, table string) error {
	sess := e.session()
	if sess == nil {
		return ErrNotInitialized
	}

	checkpoint, _ := sess.ledger.Checkpoint(table)

	// capture the window end before the call: records updated mid-call are
	// re-read next window instead of skipped
	windowEnd := time.Now().UTC()

	records, err := e.adapter.List(ctx, table, sess.owner, checkpoint)
	if err != nil {
		e.bus.Publish(TopicFullFailed, busSource, map[string]any{
			"table": table,
			"error": err.Error(),
		}, "table:"+table)
		return fmt.Errorf("full sync %s: %w", table, err)
	}

	if err := sess.snapshots.Replace(ctx, table, records); err != nil {
		slog.Warn("snapshot replace", "table", table, "error", err)
	}
	if err := sess.ledger.Advance(ctx, table, windowEnd); err != nil {
		slog.Warn("ledger advance", "table", table, "error", err)
	}

	e.bus.Publish(TopicFullDone, busSource, map[string]any{
		"table": table,
		"count": len(records),
	}, "table:"+table)

	slog.Info("full sync", "table", table, "records", len(records))
	return nil
}

// ForceSync attempts an immediate pass. No-op when offline, uninitialized
// or a pass is already running.
func (e *Engine) ForceSync() error {
	sess := e.session()
	if sess == nil {
		return ErrNotInitialized
	}
	if !e.net.Online() {
		return nil
	}
	if err := sess.proc.RunPass(e.ctx); err != nil && !errors.Is(err, ErrPassAlreadyRunning) {
		return err
	}
	return nil
}

// Status returns the aggregate counts and flags for UI rendering.
func (e *Engine) Status() Status {
	st := Status{Online: e.net.Online()}

	sess := e.session()
	if sess == nil {
		return st
	}

	pending, failed, parked := sess.queue.Counts()
	st.Owner = sess.owner
	st.Processing = sess.proc.Running()
	st.PendingCount = pending
	st.FailedCount = failed + parked
	st.ParkedCount = parked
	st.Checkpoints = sess.ledger.All()
	st.Errors = sess.queue.Errors()
	return st
}

// LastSyncTimestamp returns the full-sync checkpoint for table.
func (e *Engine) LastSyncTimestamp(table string) (time.Time, bool) {
	sess := e.session()
	if sess == nil {
		return time.Time{}, false
	}
	return sess.ledger.Checkpoint(table)
}

// Snapshot returns the locally cached full-sync result for table.
func (e *Engine) Snapshot(ctx context.Context, table string) ([]remote.Record, error) {
	sess := e.session()
	if sess == nil {
		return nil, ErrNotInitialized
	}
	return sess.snapshots.Get(ctx, table)
}

// Stop cancels scheduled passes and bus subscriptions. Unlike SignOut it
// leaves persisted state in place for the next start.
func (e *Engine) Stop() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil

	if sess := e.session(); sess != nil {
		sess.proc.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	slog.Info("sync engine stopped")
}

func (e *Engine) session() *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sess
}
