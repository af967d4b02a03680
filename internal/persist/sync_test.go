package persist

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "records.json"))
}

func TestCreateIfAbsentUpsertSemantics(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	sync := NewSynchronizer(store)

	first := json.RawMessage(`[{"id":"act1"}]`)
	second := json.RawMessage(`[{"id":"act1"},{"id":"act2"}]`)

	require.NoError(t, sync.CreateIfAbsent(ctx, "rec1", first, json.RawMessage(`{}`)))
	require.NoError(t, sync.CreateIfAbsent(ctx, "rec1", second, json.RawMessage(`{}`)))

	rec, ok, err := store.Get(ctx, "rec1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, string(second), string(rec.StructureData), "second call's structureData must win")

	// No duplicate record was created.
	all, err := store.ListByParent(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// vanishingStore acknowledges writes but never shows them on reread.
type vanishingStore struct{ FileStore }

func (v *vanishingStore) Upsert(ctx context.Context, rec Record) error { return nil }
func (v *vanishingStore) Get(ctx context.Context, id string) (Record, bool, error) {
	return Record{}, false, nil
}

func TestCreateVerificationMissIsConsistencyError(t *testing.T) {
	sync := NewSynchronizer(&vanishingStore{})
	err := sync.CreateIfAbsent(context.Background(), "rec1", nil, nil)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "rec1", cerr.RecordID)
}

func TestPersistDocumentNeverTouchesStructure(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	sync := NewSynchronizer(store)

	structure := json.RawMessage(`[{"id":"act1"}]`)
	require.NoError(t, sync.CreateIfAbsent(ctx, "rec1", structure, json.RawMessage(`{"sections":{}}`)))

	doc := json.RawMessage(`{"sections":{"act1":{"content":"x","wordCount":1}},"totalWordCount":1}`)
	require.NoError(t, sync.PersistDocument(ctx, "rec1", doc))

	rec, _, err := store.Get(ctx, "rec1")
	require.NoError(t, err)
	require.JSONEq(t, string(structure), string(rec.StructureData))
	require.JSONEq(t, string(doc), string(rec.DocumentData))
}

func TestPersistDocumentAgainstMissingRecord(t *testing.T) {
	sync := NewSynchronizer(tempStore(t))
	err := sync.PersistDocument(context.Background(), "ghost", json.RawMessage(`{}`))
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
}

// flakyStore fails the first Update, then behaves.
type flakyStore struct {
	*FileStore
	failures int
}

func (f *flakyStore) Update(ctx context.Context, rec Record) error {
	if f.failures > 0 {
		f.failures--
		return &Error{Op: "update", Err: errors.New("transient")}
	}
	return f.FileStore.Update(ctx, rec)
}

func TestPersistDocumentRetriesOnce(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{FileStore: tempStore(t), failures: 1}
	sync := NewSynchronizer(store)
	require.NoError(t, sync.CreateIfAbsent(ctx, "rec1", nil, nil))

	doc := json.RawMessage(`{"totalWordCount":5}`)
	require.NoError(t, sync.PersistDocument(ctx, "rec1", doc), "single transient failure should be absorbed")

	store.failures = 2
	require.Error(t, sync.PersistDocument(ctx, "rec1", doc), "two failures exhaust the one retry")
}

func TestSaveAllReconcilesChildRecords(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	sync := NewSynchronizer(store)

	require.NoError(t, sync.SaveAll(ctx, "rec1", nil, nil, []string{"act1", "sc1", "sc2"}))

	// A structural delete removes sc2; SaveAll must delete its record.
	require.NoError(t, sync.SaveAll(ctx, "rec1", nil, nil, []string{"act1", "sc1"}))

	children, err := store.ListByParent(ctx, "rec1")
	require.NoError(t, err)
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	require.Equal(t, []string{"act1", "sc1"}, ids)
}

func TestSaveAllLeavesExistingChildRecordsAlone(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	sync := NewSynchronizer(store)

	// The UI layer stores canvas coordinates on child records; a full
	// save must not rewrite them.
	require.NoError(t, store.Upsert(ctx, Record{ID: "sc1", ParentID: "rec1", PositionX: 12.5, PositionY: 7.25}))

	require.NoError(t, sync.SaveAll(ctx, "rec1", nil, nil, []string{"sc1", "sc2"}))

	rec, ok, err := store.Get(ctx, "sc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12.5, rec.PositionX)
	require.Equal(t, 7.25, rec.PositionY)

	// The new live id still gets its record created.
	_, ok, err = store.Get(ctx, "sc2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLoadMissingRecord(t *testing.T) {
	sync := NewSynchronizer(tempStore(t))
	_, err := sync.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")

	first := NewFileStore(path)
	require.NoError(t, first.Upsert(ctx, Record{ID: "rec1", PositionX: 12.5}))

	second := NewFileStore(path)
	rec, ok, err := second.Get(ctx, "rec1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12.5, rec.PositionX)
}

func TestFileStoreInsertConflict(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	require.NoError(t, store.Insert(ctx, Record{ID: "a"}))
	require.Error(t, store.Insert(ctx, Record{ID: "a"}), "plain insert does not upsert")
}
