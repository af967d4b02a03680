package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore is a JSON-file record store for local runs and tests.
type FileStore struct {
	path string

	loadOnce sync.Once
	mu       sync.RWMutex
	byID     map[string]Record
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, byID: make(map[string]Record)}
}

func (s *FileStore) ensureLoaded() {
	s.loadOnce.Do(func() {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var rows []Record
		if err := json.Unmarshal(b, &rows); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, row := range rows {
			id := strings.TrimSpace(row.ID)
			if id == "" {
				continue
			}
			s.byID[id] = row
		}
	})
}

func (s *FileStore) save() error {
	s.mu.RLock()
	rows := make([]Record, 0, len(s.byID))
	for _, rec := range s.byID {
		rows = append(rows, rec)
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

func (s *FileStore) Insert(ctx context.Context, rec Record) error {
	s.ensureLoaded()
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return &Error{Op: "insert", Err: errors.New("empty record id")}
	}
	s.mu.Lock()
	if _, exists := s.byID[id]; exists {
		s.mu.Unlock()
		return &Error{Op: "insert", Err: fmt.Errorf("record %s already exists", id)}
	}
	s.byID[id] = rec
	s.mu.Unlock()
	return s.save()
}

func (s *FileStore) Update(ctx context.Context, rec Record) error {
	s.ensureLoaded()
	id := strings.TrimSpace(rec.ID)
	s.mu.Lock()
	if _, exists := s.byID[id]; !exists {
		s.mu.Unlock()
		return &Error{Op: "update", Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
	}
	s.byID[id] = rec
	s.mu.Unlock()
	return s.save()
}

func (s *FileStore) Upsert(ctx context.Context, rec Record) error {
	s.ensureLoaded()
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return &Error{Op: "upsert", Err: errors.New("empty record id")}
	}
	s.mu.Lock()
	s.byID[id] = rec
	s.mu.Unlock()
	return s.save()
}

func (s *FileStore) Delete(ctx context.Context, ids []string) error {
	s.ensureLoaded()
	s.mu.Lock()
	for _, id := range ids {
		delete(s.byID, strings.TrimSpace(id))
	}
	s.mu.Unlock()
	return s.save()
}

func (s *FileStore) Get(ctx context.Context, id string) (Record, bool, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[strings.TrimSpace(id)]
	return rec, ok, nil
}

func (s *FileStore) ListByParent(ctx context.Context, parentID string) ([]Record, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.byID {
		if rec.ParentID == parentID {
			out = append(out, rec)
		}
	}
	return out, nil
}
