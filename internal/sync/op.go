package sync

import (
	"fmt"
	"time"

	"github.com/driftlock/driftsync/internal/remote"
)

// OpKind is the mutation type of a queued operation.
type OpKind string

const (
	OpInsert OpKind = "Insert"
	OpUpdate OpKind = "Update"
	OpDelete OpKind = "Delete"
)

// ParseOpKind validates a kind coming from an external caller.
func ParseOpKind(s string) (OpKind, error) {
	switch OpKind(s) {
	case OpInsert, OpUpdate, OpDelete:
		return OpKind(s), nil
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// OpStatus is the lifecycle state of a queued operation.
//
// Pending -> InProgress -> Completed (removed on cleanup)
//                       -> Failed    -> Pending (cleanup, retries left)
//                                    -> parked  (cleanup, retries exhausted)
type OpStatus string

const (
	OpPending    OpStatus = "Pending"
	OpInProgress OpStatus = "InProgress"
	OpCompleted  OpStatus = "Completed"
	OpFailed     OpStatus = "Failed"
)

// maxRetryCount is the retry ceiling; a Failed operation at or past it is
// parked and never automatically resubmitted.
const maxRetryCount = 5

// Operation is one pending mutation awaiting transmission.
type Operation struct {
	ID         string        `json:"id"`
	Table      string        `json:"table"`
	Kind       OpKind        `json:"kind"`
	Record     remote.Record `json:"record"`
	CreatedAt  time.Time     `json:"created_at"`
	RetryCount int           `json:"retry_count"`
	Owner      string        `json:"owner"`
	Status     OpStatus      `json:"status"`
	LastError  string        `json:"last_error,omitempty"`
	LocalOnly  bool          `json:"local_only"`
}

// Parked reports whether the operation has exhausted its retries.
func (o *Operation) Parked() bool {
	return o.Status == OpFailed && o.RetryCount >= maxRetryCount
}

// Retryable reports whether a pass could still transmit this operation,
// now or after cleanup.
func (o *Operation) Retryable() bool {
	if o.LocalOnly {
		return false
	}
	switch o.Status {
	case OpPending:
		return true
	case OpFailed:
		return !o.Parked()
	}
	return false
}
