package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/driftlock/driftsync/internal/store"
)

const storeKeyLedgerPrefix = "lastSyncTimestamp:"

// Ledger maps table names to the timestamp of their last successful full
// sync. Entries only move forward and are persisted on every advance.
type Ledger struct {
	store store.Store
	key   string

	mu      stdsync.Mutex
	entries map[string]time.Time
}

func NewLedger(s store.Store, owner string) *Ledger {
	return &Ledger{
		store:   s,
		key:     storeKeyLedgerPrefix + owner,
		entries: make(map[string]time.Time),
	}
}

func (l *Ledger) Load(ctx context.Context) error {
	data, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if !ok {
		return nil
	}

	raw := make(map[string]string)
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]time.Time, len(raw))
	for table, stamp := range raw {
		ts, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return fmt.Errorf("parse ledger entry %s=%q: %w", table, stamp, err)
		}
		l.entries[table] = ts
	}
	return nil
}

// Checkpoint returns the last full-sync time for table. ok is false when the
// table has never completed a full sync (meaning: from the beginning).
func (l *Ledger) Checkpoint(table string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.entries[table]
	return ts, ok
}

// Advance moves the checkpoint for table forward and persists. A timestamp
// at or before the current entry is ignored; checkpoints never decrement.
func (l *Ledger) Advance(ctx context.Context, table string, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.entries[table]; ok && !ts.After(current) {
		return nil
	}
	l.entries[table] = ts.UTC()
	return l.save(ctx)
}

// All returns a copy of every checkpoint.
func (l *Ledger) All() map[string]time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]time.Time, len(l.entries))
	for table, ts := range l.entries {
		out[table] = ts
	}
	return out
}

// Clear drops all checkpoints, memory and persisted. Called on sign-out.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]time.Time)
	if err := l.store.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	return nil
}

// save writes all entries back. Caller holds l.mu.
func (l *Ledger) save(ctx context.Context) error {
	raw := make(map[string]string, len(l.entries))
	for table, ts := range l.entries {
		raw[table] = ts.UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := l.store.Set(ctx, l.key, data); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}
