package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Package persist keeps the in-memory tree and document consistent with
// the remote record store. A record must be confirmed to exist before any
// incremental content write targets it (create-before-write).

var ErrNotFound = errors.New("persist: record not found")

// Error wraps a store failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("persist: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ConsistencyError reports a write that a verification reread could not
// observe. It is surfaced loudly, never silently retried: downstream
// reads of the record are unreliable until the next successful save.
type ConsistencyError struct {
	RecordID string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("persist: CONSISTENCY record %s not visible after create", e.RecordID)
}

// Record is the remote store's unit of existence: one structure tree plus
// its document payload. PositionX/Y are UI state carried opaquely.
type Record struct {
	ID            string          `json:"id"`
	ParentID      string          `json:"parentId,omitempty"`
	StructureData json.RawMessage `json:"structureData,omitempty"`
	DocumentData  json.RawMessage `json:"documentData,omitempty"`
	PositionX     float64         `json:"positionX,omitempty"`
	PositionY     float64         `json:"positionY,omitempty"`
}

// RecordStore is the remote structured store contract.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	// Upsert inserts or, on an id conflict, updates. Conflicts are not
	// errors.
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, ids []string) error
	Get(ctx context.Context, id string) (Record, bool, error)
	ListByParent(ctx context.Context, parentID string) ([]Record, error)
}
