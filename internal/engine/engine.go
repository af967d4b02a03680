package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyloom/internal/archive"
	"storyloom/internal/document"
	"storyloom/internal/event"
	"storyloom/internal/ids"
	"storyloom/internal/persist"
	"storyloom/internal/plan"
	"storyloom/internal/retrieval"
	"storyloom/internal/structure"
	"storyloom/internal/writer"
)

// Package engine sequences planning and per-section writing over one
// document session, and owns the consistency discipline between the
// in-memory tree, the document payload, and the remote record.

var (
	ErrLoading    = errors.New("engine: document is loading, mutation rejected")
	ErrNoDocument = errors.New("engine: no document in session")
	ErrUnknownRun = errors.New("engine: unknown run")
	ErrRunActive  = errors.New("engine: a generation run is already active")
)

// State is the engine-level gate. While Loading, every mutation entry
// point no-ops with ErrLoading so a late UI edit cannot race the load.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Options tunes one engine session.
type Options struct {
	RecordID          string
	WriterConcurrency int           // concurrent section writers, default 3
	WriteTimeout      time.Duration // per section-write call, default 2m
	SaveQuiet         time.Duration // debounce window for bulk saves
}

func (o Options) normalized() Options {
	if o.WriterConcurrency <= 0 {
		o.WriterConcurrency = 3
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Minute
	}
	return o
}

// Engine owns the session's tree and document exclusively; the remote
// record is the source of truth across sessions.
type Engine struct {
	planner *plan.Step
	writer  *writer.Writer
	sync    *persist.Synchronizer
	archive *archive.Store
	index   *retrieval.Index
	emitter event.Emitter
	opts    Options

	mu    sync.Mutex
	state State
	tree  *structure.Tree
	doc   *document.Store
	runs  map[string]*Run
	runID *ids.Generator
	saves *persist.SaveManager
}

// New wires the engine from completed lower layers, in dependency order.
// archiveStore, index and emitter may be nil.
func New(planner *plan.Step, w *writer.Writer, synchronizer *persist.Synchronizer,
	archiveStore *archive.Store, index *retrieval.Index, emitter event.Emitter, opts Options) *Engine {
	e := &Engine{
		planner: planner,
		writer:  w,
		sync:    synchronizer,
		archive: archiveStore,
		index:   index,
		emitter: emitter,
		opts:    opts.normalized(),
		state:   StateReady,
		runs:    make(map[string]*Run),
		runID:   ids.NewGenerator(),
	}
	e.saves = persist.NewSaveManager(e.opts.SaveQuiet, e.saveAll)
	return e
}

func (e *Engine) eventCtx(ctx context.Context, runID string) context.Context {
	if e.emitter != nil {
		ctx = event.With(ctx, e.emitter)
	}
	if runID != "" {
		ctx = event.WithRunID(ctx, runID)
	}
	return ctx
}

// saveAll is the bulk-save tier: both record fields plus child-record
// reconciliation against the live section ids.
func (e *Engine) saveAll(ctx context.Context) error {
	e.mu.Lock()
	tree, doc := e.tree, e.doc
	e.mu.Unlock()
	if tree == nil || doc == nil {
		return nil
	}
	items := tree.Items()
	structureData, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("engine: marshal structure: %w", err)
	}
	docData, err := doc.Snapshot()
	if err != nil {
		return fmt.Errorf("engine: snapshot document: %w", err)
	}
	liveIDs := make([]string, 0, len(items))
	for _, it := range items {
		liveIDs = append(liveIDs, it.ID)
	}
	return e.sync.SaveAll(ctx, e.opts.RecordID, structureData, docData, liveIDs)
}

// Load replaces the session from the remote record. The gate flips to
// Loading for the duration; concurrent mutations are rejected, never
// silently dropped.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateLoading {
		e.mu.Unlock()
		return ErrLoading
	}
	e.state = StateLoading
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = StateReady
		e.mu.Unlock()
	}()

	rec, err := e.sync.Load(ctx, e.opts.RecordID)
	if err != nil {
		return err
	}
	var items []structure.Item
	if len(rec.StructureData) > 0 {
		if err := json.Unmarshal(rec.StructureData, &items); err != nil {
			return fmt.Errorf("engine: decode structure: %w", err)
		}
	}
	tree, err := structure.FromItems(items)
	if err != nil {
		return fmt.Errorf("engine: rebuild tree: %w", err)
	}
	doc := document.NewStore()
	if len(rec.DocumentData) > 0 {
		if err := doc.Restore(rec.DocumentData); err != nil {
			return err
		}
	}
	for _, it := range items {
		doc.Ensure(it.ID)
	}
	e.mu.Lock()
	e.tree = tree
	e.doc = doc
	e.mu.Unlock()
	return nil
}

// ready returns the session stores, rejecting callers while loading.
func (e *Engine) ready() (*structure.Tree, *document.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateLoading {
		return nil, nil, ErrLoading
	}
	if e.tree == nil || e.doc == nil {
		return nil, nil, ErrNoDocument
	}
	return e.tree, e.doc, nil
}

// UpdateSectionContent applies a direct human edit and schedules a
// debounced bulk save.
func (e *Engine) UpdateSectionContent(ctx context.Context, sectionID, text string) (document.Payload, error) {
	_, doc, err := e.ready()
	if err != nil {
		return document.Payload{}, err
	}
	payload, err := doc.UpdateContent(sectionID, text)
	if err != nil {
		return document.Payload{}, err
	}
	e.saves.Debounce()
	return payload, nil
}

// InsertSection adds a section and saves immediately: a dependent read
// ("open this section") must find the structure remotely.
func (e *Engine) InsertSection(ctx context.Context, item structure.Item, parentID string, position int) error {
	tree, doc, err := e.ready()
	if err != nil {
		return err
	}
	if err := tree.Insert(item, parentID, position); err != nil {
		return err
	}
	doc.Ensure(item.ID)
	return e.saves.Immediate(ctx)
}

// RemoveSection cascades through descendants, prunes their content, and
// saves immediately so the remote delete reconciliation runs.
func (e *Engine) RemoveSection(ctx context.Context, sectionID string) error {
	tree, doc, err := e.ready()
	if err != nil {
		return err
	}
	removed, err := tree.Remove(sectionID)
	if err != nil {
		return err
	}
	doc.Prune(removed)
	if e.index != nil {
		e.index.RemoveSections(removed)
	}
	return e.saves.Immediate(ctx)
}

// ReorderSection moves a section among its siblings.
func (e *Engine) ReorderSection(ctx context.Context, sectionID string, newOrder int) error {
	tree, _, err := e.ready()
	if err != nil {
		return err
	}
	if err := tree.Reorder(sectionID, newOrder); err != nil {
		return err
	}
	e.saves.Debounce()
	return nil
}

// Document returns the current payload snapshot.
func (e *Engine) Document() (document.Payload, error) {
	_, doc, err := e.ready()
	if err != nil {
		return document.Payload{}, err
	}
	return doc.Payload(), nil
}

// Structure returns the current tree items, parents first.
func (e *Engine) Structure() ([]structure.Item, error) {
	tree, _, err := e.ready()
	if err != nil {
		return nil, err
	}
	return tree.Items(), nil
}

// Flush drains pending saves; used on shutdown.
func (e *Engine) Flush(ctx context.Context) error {
	return e.saves.Flush(ctx)
}
