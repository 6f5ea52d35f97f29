// Package remote abstracts insert/update/delete/list against the managed
// backend's named tables. The sync engine only sees the Adapter interface;
// the HTTP implementation lives in client.go.
package remote

import (
	"context"
	"fmt"
	"time"
)

// IDField is the identifier field every Update payload must carry.
const IDField = "id"

// Record is an opaque row payload understood by the backend.
type Record = map[string]any

// Adapter is the remote authoritative store for named tables.
type Adapter interface {
	Insert(ctx context.Context, table string, record Record) error
	// Update requires record[IDField]; its absence is a ValidationError and
	// no network attempt is made.
	Update(ctx context.Context, table string, record Record) error
	// Delete requires a non-empty id; same validation rule.
	Delete(ctx context.Context, table string, id string) error
	// List returns all records for owner updated after the given time.
	// A zero updatedAfter means from the beginning.
	List(ctx context.Context, table string, owner string, updatedAfter time.Time) ([]Record, error)
}

// ValidationError means the payload can never be transmitted as-is.
// It is not a transient condition.
type ValidationError struct {
	Table  string
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("remote: %s %s: %s", e.Op, e.Table, e.Reason)
}

// TransportError means the call reached for the network and failed, either
// on the wire or with a remote-side rejection.
type TransportError struct {
	Table string
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is the backend's structured error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}
