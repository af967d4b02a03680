package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"storyloom/internal/document"
	"storyloom/internal/event"
	"storyloom/internal/plan"
	"storyloom/internal/retrieval"
	"storyloom/internal/structure"
	"storyloom/internal/writer"
)

// RunState is the per-run machine:
// Idle -> Planning -> AwaitingPersistCreate -> Writing -> Finalizing -> Done|Failed.
type RunState string

const (
	RunIdle                  RunState = "idle"
	RunPlanning              RunState = "planning"
	RunAwaitingPersistCreate RunState = "awaiting_persist_create"
	RunWriting               RunState = "writing"
	RunFinalizing            RunState = "finalizing"
	RunDone                  RunState = "done"
	RunFailed                RunState = "failed"
)

type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskInProgress TaskState = "in_progress"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

type taskSlot struct {
	task  plan.Task
	state TaskState
	err   string
}

// Run tracks one generation run. All fields behind mu.
type Run struct {
	ID string

	mu        sync.Mutex
	state     RunState
	tasks     []*taskSlot
	cancelled bool
	err       string
}

func (r *Run) setState(s RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	r.state = RunFailed
	r.err = err.Error()
	r.mu.Unlock()
}

func (r *Run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Run) terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == RunDone || r.state == RunFailed
}

// TaskStatus is the externally visible state of one task.
type TaskStatus struct {
	SectionID string    `json:"sectionId"`
	State     TaskState `json:"state"`
	Error     string    `json:"error,omitempty"`
}

// RunStatus is the externally visible state of one run.
type RunStatus struct {
	RunID string       `json:"runId"`
	State RunState     `json:"state"`
	Tasks []TaskStatus `json:"tasks"`
	Error string       `json:"error,omitempty"`
}

// StartGeneration kicks off one plan-then-write run and returns its id.
// The run executes asynchronously; progress flows through the emitter and
// RunStatus.
func (e *Engine) StartGeneration(ctx context.Context, prompt, format, template string) (string, error) {
	e.mu.Lock()
	if e.state == StateLoading {
		e.mu.Unlock()
		return "", ErrLoading
	}
	// One run at a time per session: overlapping runs would race each
	// other's tree/document swap and interleave persists against the
	// same record.
	for _, existing := range e.runs {
		if !existing.terminal() {
			e.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrRunActive, existing.ID)
		}
	}
	run := &Run{ID: e.runID.Generate(prompt), state: RunIdle}
	e.runs[run.ID] = run
	e.mu.Unlock()

	go e.execute(e.eventCtx(context.Background(), run.ID), run, plan.Request{
		Prompt:   prompt,
		Format:   format,
		Template: template,
	})
	return run.ID, nil
}

// RunStatus reports the state plus per-task status of a run.
func (e *Engine) RunStatus(runID string) (RunStatus, error) {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	out := RunStatus{RunID: run.ID, State: run.state, Error: run.err}
	for _, slot := range run.tasks {
		out.Tasks = append(out.Tasks, TaskStatus{SectionID: slot.task.SectionID, State: slot.state, Error: slot.err})
	}
	return out, nil
}

// CancelRun requests cooperative cancellation: writers already in flight
// finish and persist; no new tasks are dispatched. Already-written
// content is never deleted.
func (e *Engine) CancelRun(runID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	run.mu.Lock()
	run.cancelled = true
	run.mu.Unlock()
	return nil
}

func (e *Engine) execute(ctx context.Context, run *Run, req plan.Request) {
	// Planning: one backend call; a malformed plan is terminal for the
	// run and nothing is applied.
	run.setState(RunPlanning)
	event.SendDecision(ctx, "planning structure", strings.TrimSpace(req.Format))
	p, err := e.planner.Build(ctx, req)
	if err != nil {
		event.SendError(ctx, "planning", err.Error())
		run.fail(err)
		return
	}

	tree, err := structure.FromItems(p.Items)
	if err != nil {
		event.SendError(ctx, "planning", err.Error())
		run.fail(err)
		return
	}
	doc := document.FromPlan(p.Items)

	run.mu.Lock()
	for _, task := range p.Tasks {
		run.tasks = append(run.tasks, &taskSlot{task: task, state: TaskPending})
	}
	run.mu.Unlock()

	e.mu.Lock()
	e.tree = tree
	e.doc = doc
	e.mu.Unlock()

	event.SendDecision(ctx, fmt.Sprintf("planned %d sections, %d tasks", len(p.Items), len(p.Tasks)), "")

	// Create-before-write: the remote record must be confirmed to exist
	// before any section persist is attempted. Await the create.
	run.setState(RunAwaitingPersistCreate)
	structureData, err := json.Marshal(tree.Items())
	if err != nil {
		run.fail(err)
		return
	}
	docData, err := doc.Snapshot()
	if err != nil {
		run.fail(err)
		return
	}
	if err := e.sync.CreateIfAbsent(ctx, e.opts.RecordID, structureData, docData); err != nil {
		event.SendError(ctx, "persistence", err.Error())
		run.fail(err)
		return
	}

	run.setState(RunWriting)
	e.writeAll(ctx, run, tree, doc)

	// Finalizing: persist aggregates, archive a snapshot, report.
	run.setState(RunFinalizing)
	completed, failed := 0, 0
	run.mu.Lock()
	for _, slot := range run.tasks {
		switch slot.state {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		}
	}
	cancelled := run.cancelled
	run.mu.Unlock()

	if final, err := doc.Snapshot(); err == nil {
		if err := e.sync.PersistDocument(ctx, e.opts.RecordID, final); err != nil {
			event.SendError(ctx, "persistence", err.Error())
		}
		if err := e.archive.PutSnapshot(ctx, e.opts.RecordID, run.ID, final); err != nil {
			log.Printf("engine: archive snapshot: %v", err)
		}
	}
	event.SendResult(ctx, completed, failed, doc.TotalWordCount())

	if cancelled {
		run.fail(fmt.Errorf("engine: run cancelled with %d tasks unfinished", len(run.tasks)-completed-failed))
		return
	}
	run.setState(RunDone)
}

// writeAll fans tasks out to at most WriterConcurrency writers. Sibling
// sections may complete and persist in any order; a task that depends on
// sibling order waits for everything dispatched before it.
func (e *Engine) writeAll(ctx context.Context, run *Run, tree *structure.Tree, doc *document.Store) {
	sem := make(chan struct{}, e.opts.WriterConcurrency)
	var wg sync.WaitGroup

	for _, slot := range run.tasks {
		if run.isCancelled() {
			break // remaining tasks stay pending
		}
		if slot.task.DependsOnSiblingOrder {
			wg.Wait()
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(slot *taskSlot) {
			defer wg.Done()
			defer func() { <-sem }()
			e.writeOne(ctx, run, slot, tree, doc)
		}(slot)
	}
	wg.Wait()
}

func (e *Engine) writeOne(ctx context.Context, run *Run, slot *taskSlot, tree *structure.Tree, doc *document.Store) {
	if run.isCancelled() {
		return // stays pending; dispatch may have queued it before the cancel
	}
	sectionID := slot.task.SectionID
	run.mu.Lock()
	slot.state = TaskInProgress
	run.mu.Unlock()
	event.SendTask(ctx, sectionID, string(TaskInProgress), "")

	fail := func(err error) {
		run.mu.Lock()
		slot.state = TaskFailed
		slot.err = err.Error()
		run.mu.Unlock()
		event.SendTask(ctx, sectionID, string(TaskFailed), err.Error())
		event.SendError(ctx, "writing", err.Error())
	}

	req, err := e.buildWriteRequest(ctx, slot.task, tree, doc)
	if err != nil {
		fail(err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	text, err := e.writer.Write(callCtx, req)
	cancel()
	if err != nil {
		fail(err) // isolated: sibling tasks keep running
		return
	}

	payload, err := doc.UpdateContent(sectionID, text)
	if err != nil {
		fail(err)
		return
	}
	e.indexSection(ctx, sectionID, text)

	// Incremental persist of the document payload only; the record is
	// known to exist (create was awaited).
	if data, err := json.Marshal(payload); err == nil {
		if err := e.sync.PersistDocument(ctx, e.opts.RecordID, data); err != nil {
			event.SendError(ctx, "persistence", err.Error())
		}
	}

	run.mu.Lock()
	slot.state = TaskCompleted
	run.mu.Unlock()
	event.SendTask(ctx, sectionID, string(TaskCompleted), "")
}

// buildWriteRequest assembles neighboring context: sibling summaries from
// the tree, already-written neighbor prose, and similarity hits from
// earlier sections.
func (e *Engine) buildWriteRequest(ctx context.Context, task plan.Task, tree *structure.Tree, doc *document.Store) (writer.Request, error) {
	item, ok := tree.Get(task.SectionID)
	if !ok {
		return writer.Request{}, fmt.Errorf("%w: %s", structure.ErrUnknownSection, task.SectionID)
	}
	req := writer.Request{
		SectionID:       item.ID,
		SectionName:     item.Name,
		Prompt:          task.Prompt,
		WordCountBudget: item.WordCountBudget,
	}
	siblings := tree.ChildrenOf(item.ParentID)
	for i, sib := range siblings {
		if sib.ID != item.ID {
			continue
		}
		if i > 0 {
			prev := siblings[i-1]
			req.PriorSummary = summaryOf(prev)
			if sec, ok := doc.Get(prev.ID); ok && sec.Content != "" {
				req.NeighborContent = sec.Content
			}
		}
		if i < len(siblings)-1 {
			req.FollowingSummary = summaryOf(siblings[i+1])
		}
		break
	}
	if e.index != nil {
		query := strings.TrimSpace(item.Name + " " + task.Prompt)
		if hits, err := e.index.Search(ctx, query, 0.35, 3, nil); err == nil {
			for _, h := range hits {
				if h.SectionID == item.ID {
					continue
				}
				req.RetrievedContext = append(req.RetrievedContext, h.Text)
			}
		}
	}
	return req, nil
}

func (e *Engine) indexSection(ctx context.Context, sectionID, text string) {
	if e.index == nil {
		return
	}
	chunks := retrieval.ChunkText(sectionID, text, retrieval.Options{
		MaxTokensPerChunk: 400,
		MinTokensPerChunk: 40,
		OverlapTokens:     50,
		RespectBoundaries: true,
	})
	for _, c := range chunks {
		id := fmt.Sprintf("%s#%d", sectionID, c.Index)
		if err := e.index.Add(ctx, id, sectionID, c.Text); err != nil {
			log.Printf("engine: index %s: %v", id, err)
			return
		}
	}
}

func summaryOf(item structure.Item) string {
	if item.Summary != "" {
		return item.Summary
	}
	return item.Name
}
