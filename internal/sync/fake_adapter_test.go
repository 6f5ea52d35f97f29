package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/driftlock/driftsync/internal/remote"
)

// fakeAdapter records calls in order and fails on demand, with the same
// validation rules as the HTTP client.
type fakeAdapter struct {
	mu         stdsync.Mutex
	calls      []string
	failTables map[string]error

	listResult []remote.Record
	listErr    error
	listWindow []time.Time
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failTables: make(map[string]error)}
}

func (f *fakeAdapter) failTable(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTables[table] = err
}

func (f *fakeAdapter) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAdapter) record(op, table string, id any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%v", op, table, id))
	if err, ok := f.failTables[table]; ok {
		return err
	}
	return nil
}

func (f *fakeAdapter) Insert(ctx context.Context, table string, record remote.Record) error {
	return f.record("insert", table, record[remote.IDField])
}

func (f *fakeAdapter) Update(ctx context.Context, table string, record remote.Record) error {
	id, _ := record[remote.IDField].(string)
	if id == "" {
		return &remote.ValidationError{Table: table, Op: "update", Reason: "record has no identifier field"}
	}
	return f.record("update", table, id)
}

func (f *fakeAdapter) Delete(ctx context.Context, table string, id string) error {
	if id == "" {
		return &remote.ValidationError{Table: table, Op: "delete", Reason: "missing record id"}
	}
	return f.record("delete", table, id)
}

func (f *fakeAdapter) List(ctx context.Context, table string, owner string, updatedAfter time.Time) ([]remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("list:%s:%s", table, owner))
	f.listWindow = append(f.listWindow, updatedAfter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listResult, nil
}

var _ remote.Adapter = (*fakeAdapter)(nil)
