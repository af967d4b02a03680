package event

import (
	"context"
	"testing"
)

type capture struct{ events []Event }

func (c *capture) Emit(ev Event) { c.events = append(c.events, ev) }

func TestSendWithoutEmitterIsNoop(t *testing.T) {
	if SendThinking(context.Background(), "planning", "...") {
		t.Fatal("send without emitter should report false")
	}
}

func TestSendStampsRunID(t *testing.T) {
	c := &capture{}
	ctx := WithRunID(With(context.Background(), c), "run-1")
	if !SendTask(ctx, "sc1", "in_progress", "") {
		t.Fatal("send with emitter should report true")
	}
	if len(c.events) != 1 {
		t.Fatalf("got %d events", len(c.events))
	}
	ev := c.events[0]
	if ev.RunID != "run-1" || ev.Type != TypeTask || ev.Task == nil || ev.Task.SectionID != "sc1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.At.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestExactlyOnePayloadPerVariant(t *testing.T) {
	c := &capture{}
	ctx := With(context.Background(), c)
	SendThinking(ctx, "writing", "hm")
	SendDecision(ctx, "fan out", "3 tasks")
	SendResult(ctx, 2, 1, 500)
	SendError(ctx, "persistence", "store unreachable")
	for _, ev := range c.events {
		set := 0
		for _, p := range []bool{ev.Thinking != nil, ev.Decision != nil, ev.Task != nil, ev.Result != nil, ev.Error != nil} {
			if p {
				set++
			}
		}
		if set != 1 {
			t.Fatalf("event %q has %d payloads", ev.Type, set)
		}
	}
}

func TestHubFanOutAndDrop(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Emit(Event{Type: TypeDecision})
	select {
	case ev := <-ch:
		if ev.Type != TypeDecision {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("subscriber missed event")
	}

	// Overflow: a full subscriber drops rather than blocking.
	for i := 0; i < 100; i++ {
		h.Emit(Event{Type: TypeThinking})
	}
}

func TestHubCancelIdempotent(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	cancel()
	cancel() // second cancel must not panic
}
