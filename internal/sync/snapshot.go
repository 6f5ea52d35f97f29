package sync

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/store"
)

const snapshotCacheSize = 32

// Snapshots holds the locally cached per-table result of the last full sync,
// persisted in the store with a small LRU in front for reads.
type Snapshots struct {
	store store.Store
	owner string
	cache *lru.Cache[string, []remote.Record]
}

func NewSnapshots(s store.Store, owner string) (*Snapshots, error) {
	cache, err := lru.New[string, []remote.Record](snapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return &Snapshots{store: s, owner: owner, cache: cache}, nil
}

func (s *Snapshots) key(table string) string {
	return fmt.Sprintf("snapshot:%s:%s", s.owner, table)
}

// Replace swaps the cached snapshot for table with records.
func (s *Snapshots) Replace(ctx context.Context, table string, records []remote.Record) error {
	s.cache.Add(table, records)

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", table, err)
	}
	if err := s.store.Set(ctx, s.key(table), data); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", table, err)
	}
	return nil
}

// Get returns the cached snapshot for table, or nil when none exists.
func (s *Snapshots) Get(ctx context.Context, table string) ([]remote.Record, error) {
	if records, ok := s.cache.Get(table); ok {
		return records, nil
	}

	data, ok, err := s.store.Get(ctx, s.key(table))
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", table, err)
	}
	if !ok {
		return nil, nil
	}

	var records []remote.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", table, err)
	}
	s.cache.Add(table, records)
	return records, nil
}

// Clear drops every snapshot for this owner. Called on sign-out.
func (s *Snapshots) Clear(ctx context.Context) error {
	s.cache.Purge()
	if err := s.store.DeletePrefix(ctx, fmt.Sprintf("snapshot:%s:", s.owner)); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}
