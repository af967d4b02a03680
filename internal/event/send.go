package event

import (
	"context"
	"time"
)

type ctxKeyEmitter struct{}
type ctxKeyRunID struct{}

// With binds an emitter into the context used by the engine and writers.
func With(ctx context.Context, em Emitter) context.Context {
	return context.WithValue(ctx, ctxKeyEmitter{}, em)
}

// WithRunID stamps subsequent events with the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID{}, runID)
}

// From returns the context-bound emitter, or nil.
func From(ctx context.Context) Emitter {
	if v := ctx.Value(ctxKeyEmitter{}); v != nil {
		if em, ok := v.(Emitter); ok {
			return em
		}
	}
	return nil
}

func runIDFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyRunID{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func send(ctx context.Context, ev Event) bool {
	em := From(ctx)
	if em == nil {
		return false
	}
	ev.RunID = runIDFrom(ctx)
	ev.At = time.Now()
	em.Emit(ev)
	return true
}

// Send* helpers no-op when no emitter is bound, so library code can emit
// unconditionally.

func SendThinking(ctx context.Context, phase, text string) bool {
	return send(ctx, Event{Type: TypeThinking, Thinking: &Thinking{Phase: phase, Text: text}})
}

func SendDecision(ctx context.Context, summary, detail string) bool {
	return send(ctx, Event{Type: TypeDecision, Decision: &Decision{Summary: summary, Detail: detail}})
}

func SendTask(ctx context.Context, sectionID, state, detail string) bool {
	return send(ctx, Event{Type: TypeTask, Task: &Task{SectionID: sectionID, State: state, Detail: detail}})
}

func SendResult(ctx context.Context, completed, failed, totalWords int) bool {
	return send(ctx, Event{Type: TypeResult, Result: &Result{Completed: completed, Failed: failed, TotalWordCount: totalWords}})
}

func SendError(ctx context.Context, scope, message string) bool {
	return send(ctx, Event{Type: TypeError, Error: &Error{Scope: scope, Message: message}})
}
