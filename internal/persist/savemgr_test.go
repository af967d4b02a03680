package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebounceCoalescesBursts(t *testing.T) {
	var saves atomic.Int32
	m := NewSaveManager(30*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	})
	for i := 0; i < 10; i++ {
		m.Debounce()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), saves.Load(), "a burst of edits coalesces into one save")
}

func TestImmediateIsAwaited(t *testing.T) {
	done := false
	m := NewSaveManager(time.Hour, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		done = true
		return nil
	})
	require.NoError(t, m.Immediate(context.Background()))
	require.True(t, done, "Immediate must not return before the save completes")
}

func TestSavesNeverOverlap(t *testing.T) {
	var mu sync.Mutex
	running := 0
	maxRunning := 0
	m := NewSaveManager(5*time.Millisecond, func(context.Context) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(15 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	m.Debounce()
	time.Sleep(8 * time.Millisecond) // first save now in flight
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Immediate(context.Background())
		}()
	}
	wg.Wait()
	require.NoError(t, m.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxRunning, "saves must not overlap")
}

func TestDebounceSuppressedByImmediateStillRuns(t *testing.T) {
	var saves atomic.Int32
	release := make(chan struct{})
	m := NewSaveManager(5*time.Millisecond, func(context.Context) error {
		if saves.Add(1) == 1 {
			<-release
		}
		return nil
	})

	immediateDone := make(chan error, 1)
	go func() { immediateDone <- m.Immediate(context.Background()) }()
	require.Eventually(t, func() bool { return saves.Load() == 1 },
		time.Second, time.Millisecond, "immediate save never started")

	// The timer fires while the immediate save is in flight; fire()
	// records it as pending instead of overlapping.
	m.Debounce()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), saves.Load(), "saves must not overlap")

	close(release)
	require.NoError(t, <-immediateDone)
	require.Eventually(t, func() bool { return saves.Load() == 2 },
		time.Second, time.Millisecond, "the suppressed debounced save must run once the immediate save resolves")
}

func TestImmediateCancellable(t *testing.T) {
	m := NewSaveManager(time.Hour, func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	// Occupy the manager.
	go func() { _ = m.Immediate(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Immediate(ctx), context.DeadlineExceeded)
}
