package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/driftlock/driftsync/internal/bus"
	"github.com/driftlock/driftsync/internal/netmon"
	"github.com/driftlock/driftsync/internal/remote"
)

var ErrPassAlreadyRunning = errors.New("sync pass already running")

const (
	defaultCallTimeout = 30 * time.Second
	defaultRetryBase   = 5 * time.Second
	defaultRetryMax    = 5 * time.Minute
)

type ProcessorOption func(*Processor)

// WithCallTimeout bounds each Remote Adapter call so a hung call cannot
// hang the whole pass.
func WithCallTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.callTimeout = d
	}
}

// WithRetrySchedule overrides the backoff between retry passes.
func WithRetrySchedule(base, max time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.retry = newBackoff(base, max)
	}
}

// Processor drains the queue against the Remote Adapter: strict CreatedAt
// order, at most one pass at a time, retry with capped jittered backoff.
type Processor struct {
	queue   *Queue
	adapter remote.Adapter
	net     *netmon.Monitor
	ledger  *Ledger
	bus     *bus.Bus

	callTimeout time.Duration
	retry       *backoff

	// passMu is the single-pass mutual exclusion; a real mutex, not a
	// flag, since passes may be triggered from parallel goroutines.
	passMu     stdsync.Mutex
	processing atomic.Bool

	timerMu stdsync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewProcessor(queue *Queue, adapter remote.Adapter, net *netmon.Monitor, ledger *Ledger, b *bus.Bus, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:       queue,
		adapter:     adapter,
		net:         net,
		ledger:      ledger,
		bus:         b,
		callTimeout: defaultCallTimeout,
		retry:       newBackoff(defaultRetryBase, defaultRetryMax),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether a pass is currently executing.
func (p *Processor) Running() bool {
	return p.processing.Load()
}

// TriggerPass starts a pass on its own goroutine. Already-running is not an
// error here; the running pass will pick up remaining work on reschedule.
func (p *Processor) TriggerPass(ctx context.Context) {
	go func() {
		if err := p.RunPass(ctx); err != nil && !errors.Is(err, ErrPassAlreadyRunning) {
			slog.Error("sync pass failed", "error", err)
		}
	}()
}

// RunPass executes one processing pass. No-op when offline or the queue has
// nothing processable; ErrPassAlreadyRunning when a pass is in flight.
func (p *Processor) RunPass(ctx context.Context) error {
	if !p.passMu.TryLock() {
		return ErrPassAlreadyRunning
	}
	defer p.passMu.Unlock()

	p.processing.Store(true)
	defer p.processing.Store(false)

	if !p.net.Online() {
		return nil
	}

	// snapshot-then-iterate: concurrent enqueues land in the next pass
	ops := p.queue.Processable()
	if len(ops) == 0 {
		p.retry.reset()
		return nil
	}

	tStart := time.Now()
	completedTables := mapset.NewSet[string]()
	var completed, failed int

	for i := range ops {
		if ctx.Err() != nil {
			break
		}
		op := &ops[i]

		if err := p.queue.MarkInProgress(ctx, op.ID); err != nil {
			slog.Warn("mark in-progress", "op", op.ID, "error", err)
		}

		if err := p.dispatch(ctx, op); err != nil {
			failed++
			if markErr := p.queue.MarkFailed(ctx, op.ID, err); markErr != nil {
				slog.Warn("mark failed", "op", op.ID, "error", markErr)
			}
			p.publishFailure(op, err)
			continue
		}

		completed++
		completedTables.Add(op.Table)
		if err := p.queue.MarkCompleted(ctx, op.ID); err != nil {
			slog.Warn("mark completed", "op", op.ID, "error", err)
		}
		p.bus.Publish(TopicOpCompleted, busSource, *op, "table:"+op.Table, "kind:"+string(op.Kind))
	}

	if err := p.queue.RemoveCompleted(ctx); err != nil {
		slog.Warn("queue cleanup", "error", err)
	}

	now := time.Now().UTC()
	for _, table := range completedTables.ToSlice() {
		if err := p.ledger.Advance(ctx, table, now); err != nil {
			slog.Warn("ledger advance", "table", table, "error", err)
		}
	}

	slog.Info("sync pass",
		"completed", completed,
		"failed", failed,
		"tables", completedTables.Cardinality(),
		"took", time.Since(tStart),
	)

	if p.queue.HasRetryable() {
		p.scheduleNext(ctx)
	} else {
		p.retry.reset()
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, op *Operation) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	switch op.Kind {
	case OpInsert:
		return p.adapter.Insert(callCtx, op.Table, op.Record)
	case OpUpdate:
		return p.adapter.Update(callCtx, op.Table, op.Record)
	case OpDelete:
		id, _ := op.Record[remote.IDField].(string)
		return p.adapter.Delete(callCtx, op.Table, id)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (p *Processor) publishFailure(op *Operation, cause error) {
	labels := []string{"table:" + op.Table, "kind:" + string(op.Kind)}
	if after, ok := p.queue.Get(op.ID); ok && after.Parked() {
		labels = append(labels, "parked")
	} else {
		labels = append(labels, "retryable")
	}

	var verr *remote.ValidationError
	if errors.As(cause, &verr) {
		labels = append(labels, "validation")
	}
	p.bus.Publish(TopicOpFailed, busSource, map[string]any{
		"id":    op.ID,
		"table": op.Table,
		"kind":  op.Kind,
		"error": cause.Error(),
	}, labels...)
}

// scheduleNext arms the retry timer. Owned by Stop so no timer outlives the
// engine.
func (p *Processor) scheduleNext(ctx context.Context) {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	if p.stopped || ctx.Err() != nil {
		return
	}

	delay := p.retry.next()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(delay, func() {
		p.TriggerPass(ctx)
	})
	slog.Debug("retry pass scheduled", "delay", delay)
}

// Stop cancels future scheduled passes. An in-flight pass is not cancelled;
// it finishes its current operation and exits via its context.
func (p *Processor) Stop() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
