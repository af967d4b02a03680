package persist

import (
	"context"
	"encoding/json"
	"log"
)

// Synchronizer translates tree/document state to and from the record
// store, owning create-before-write and delete reconciliation.
type Synchronizer struct {
	store RecordStore
}

func NewSynchronizer(store RecordStore) *Synchronizer {
	return &Synchronizer{store: store}
}

// CreateIfAbsent establishes the record with upsert semantics: a conflict
// with an existing id falls back to update, never errors. After the
// write, a verification reread confirms the record is actually visible;
// a miss is a ConsistencyError reported to the caller, not retried.
func (s *Synchronizer) CreateIfAbsent(ctx context.Context, recordID string, structureData, docData json.RawMessage) error {
	rec := Record{ID: recordID, StructureData: structureData, DocumentData: docData}
	if existing, ok, err := s.store.Get(ctx, recordID); err == nil && ok {
		rec.ParentID = existing.ParentID
		rec.PositionX = existing.PositionX
		rec.PositionY = existing.PositionY
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return err
	}
	_, ok, err := s.store.Get(ctx, recordID)
	if err != nil {
		return &Error{Op: "verify-create", Err: err}
	}
	if !ok {
		cerr := &ConsistencyError{RecordID: recordID}
		log.Printf("persist: %v", cerr)
		return cerr
	}
	return nil
}

// PersistDocument updates only the document field of the record. The
// structure field is read back and written unchanged, never overwritten
// as a side effect. One immediate retry on failure, then the error is
// reported.
func (s *Synchronizer) PersistDocument(ctx context.Context, recordID string, docData json.RawMessage) error {
	persist := func() error {
		rec, ok, err := s.store.Get(ctx, recordID)
		if err != nil {
			return &Error{Op: "persist-document", Err: err}
		}
		if !ok {
			// Create-before-write was violated: the content update
			// would target nothing.
			cerr := &ConsistencyError{RecordID: recordID}
			log.Printf("persist: %v", cerr)
			return cerr
		}
		rec.DocumentData = docData
		return s.store.Update(ctx, rec)
	}
	err := persist()
	if err == nil {
		return nil
	}
	if _, consistency := err.(*ConsistencyError); consistency {
		return err
	}
	log.Printf("persist: document save for %s failed, retrying once: %v", recordID, err)
	return persist()
}

// SaveAll writes both fields and reconciles child records: every live
// section keeps a child record under the parent, and children whose ids
// are no longer live are deleted.
func (s *Synchronizer) SaveAll(ctx context.Context, recordID string, structureData, docData json.RawMessage, liveIDs []string) error {
	if err := s.CreateIfAbsent(ctx, recordID, structureData, docData); err != nil {
		return err
	}
	existing, err := s.store.ListByParent(ctx, recordID)
	if err != nil {
		return &Error{Op: "save-all", Err: err}
	}
	remote := make(map[string]struct{}, len(existing))
	for _, child := range existing {
		remote[child.ID] = struct{}{}
	}
	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = struct{}{}
		if _, ok := remote[id]; ok {
			// The child record already exists; its other fields
			// (position, UI state) are not ours to rewrite.
			continue
		}
		if err := s.store.Upsert(ctx, Record{ID: id, ParentID: recordID}); err != nil {
			return &Error{Op: "save-all", Err: err}
		}
	}
	var stale []string
	for _, child := range existing {
		if _, ok := live[child.ID]; !ok {
			stale = append(stale, child.ID)
		}
	}
	if len(stale) > 0 {
		if err := s.store.Delete(ctx, stale); err != nil {
			return &Error{Op: "save-all", Err: err}
		}
	}
	return nil
}

// Load fetches the record for a session restore.
func (s *Synchronizer) Load(ctx context.Context, recordID string) (Record, error) {
	rec, ok, err := s.store.Get(ctx, recordID)
	if err != nil {
		return Record{}, &Error{Op: "load", Err: err}
	}
	if !ok {
		return Record{}, &Error{Op: "load", Err: ErrNotFound}
	}
	return rec, nil
}
