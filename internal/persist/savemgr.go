package persist

import (
	"context"
	"log"
	"sync"
	"time"
)

// SaveFunc performs one full save.
type SaveFunc func(ctx context.Context) error

// SaveManager implements the two save tiers: a debounced bulk save that
// coalesces bursts of small edits, and an awaited immediate save used
// after structurally significant events. Debounced saves never overlap;
// an edit arriving while a save is in flight schedules one follow-up.
type SaveManager struct {
	quiet time.Duration
	save  SaveFunc

	mu       sync.Mutex
	timer    *time.Timer
	inFlight bool
	pending  bool
}

func NewSaveManager(quiet time.Duration, save SaveFunc) *SaveManager {
	if quiet <= 0 {
		quiet = 2 * time.Second
	}
	return &SaveManager{quiet: quiet, save: save}
}

// Debounce schedules a save after the quiet period, resetting the clock
// on every call. Fire-and-forget; failures are logged.
func (m *SaveManager) Debounce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.quiet, m.fire)
}

func (m *SaveManager) fire() {
	m.mu.Lock()
	if m.inFlight {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.mu.Unlock()

	if err := m.save(context.Background()); err != nil {
		log.Printf("persist: debounced save failed: %v", err)
	}

	m.mu.Lock()
	m.inFlight = false
	rerun := m.pending
	m.pending = false
	m.mu.Unlock()
	if rerun {
		m.fire()
	}
}

// Immediate runs the save now and waits for it, closing the window in
// which a dependent read could observe missing remote state. It shares
// the no-overlap discipline with debounced saves.
func (m *SaveManager) Immediate(ctx context.Context) error {
	for {
		m.mu.Lock()
		if !m.inFlight {
			if m.timer != nil {
				m.timer.Stop()
				m.timer = nil
			}
			m.inFlight = true
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	err := m.save(ctx)
	m.mu.Lock()
	m.inFlight = false
	rerun := m.pending
	m.pending = false
	m.mu.Unlock()
	// A debounced save suppressed while we were in flight still has to
	// happen; run it the same way fire does.
	if rerun {
		go m.fire()
	}
	return err
}

// Flush waits for any scheduled or running save to finish. Used on
// shutdown.
func (m *SaveManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	scheduled := m.timer != nil
	m.mu.Unlock()
	if scheduled {
		return m.Immediate(ctx)
	}
	for {
		m.mu.Lock()
		busy := m.inFlight || m.pending
		m.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
