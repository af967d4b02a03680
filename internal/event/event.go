package event

import "time"

// Package event defines the closed set of progress events a generation
// run emits. Each variant carries a fixed payload; exactly one payload
// field is set per event.

type Type string

const (
	TypeThinking Type = "thinking"
	TypeDecision Type = "decision"
	TypeTask     Type = "task"
	TypeResult   Type = "result"
	TypeError    Type = "error"
)

// Thinking is incremental model reasoning surfaced during a call.
type Thinking struct {
	Phase string `json:"phase"`
	Text  string `json:"text"`
}

// Decision records a routing or planning choice the engine made.
type Decision struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// Task reports a per-section task state change.
type Task struct {
	SectionID string `json:"sectionId"`
	State     string `json:"state"` // pending, in_progress, completed, failed
	Detail    string `json:"detail,omitempty"`
}

// Result carries a run-level outcome: counts and the final word total.
type Result struct {
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	TotalWordCount int `json:"totalWordCount"`
}

// Error surfaces a non-fatal failure tied to the run.
type Error struct {
	Scope   string `json:"scope"` // planning, writing, persistence
	Message string `json:"message"`
}

type Event struct {
	Type     Type      `json:"type"`
	RunID    string    `json:"runId,omitempty"`
	At       time.Time `json:"at"`
	Thinking *Thinking `json:"thinking,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
	Task     *Task     `json:"task,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Error    *Error    `json:"error,omitempty"`
}

// Emitter receives run events. Implementations must not block the caller.
type Emitter interface {
	Emit(ev Event)
}
