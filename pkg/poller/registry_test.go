package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestStartTicksUntilStopped(t *testing.T) {
	r := NewRegistry()
	defer r.StopAll()

	var ticks atomic.Int32
	r.Start(context.Background(), "s1", 10*time.Millisecond, func(context.Context) { ticks.Add(1) })
	waitFor(t, func() bool { return ticks.Load() >= 3 })

	if !r.Stop("s1") {
		t.Fatalf("expected stop to report a registered timer")
	}
	if r.Stop("s1") {
		t.Fatalf("second stop should be a no-op")
	}
	if r.Active("s1") {
		t.Fatalf("expected session inactive")
	}
	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if got := ticks.Load(); got > after+1 {
		t.Fatalf("ticks continued after stop: %d -> %d", after, got)
	}
}

func TestStartReplacesExistingTimer(t *testing.T) {
	r := NewRegistry()
	defer r.StopAll()

	var first, second atomic.Int32
	r.Start(context.Background(), "s1", 10*time.Millisecond, func(context.Context) { first.Add(1) })
	r.Start(context.Background(), "s1", 10*time.Millisecond, func(context.Context) { second.Add(1) })
	if r.Len() != 1 {
		t.Fatalf("expected one timer, got %d", r.Len())
	}
	waitFor(t, func() bool { return second.Load() >= 2 })
	before := first.Load()
	time.Sleep(50 * time.Millisecond)
	if first.Load() != before {
		t.Fatalf("replaced timer kept ticking")
	}
	if r.Len() != 1 || !r.Active("s1") {
		t.Fatalf("replacement timer must stay registered")
	}
}

func TestStopFromInsideTick(t *testing.T) {
	r := NewRegistry()
	defer r.StopAll()

	var ticks atomic.Int32
	r.Start(context.Background(), "s1", 5*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
		r.Stop("s1")
		if ctx.Err() == nil {
			t.Errorf("expected tick context cancelled after stop")
		}
	})
	waitFor(t, func() bool { return ticks.Load() >= 1 && !r.Active("s1") })
	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != 1 {
		t.Fatalf("expected exactly one tick, got %d", got)
	}
}

func TestTicksDoNotOverlap(t *testing.T) {
	r := NewRegistry()
	defer r.StopAll()

	var running, overlaps, ticks atomic.Int32
	r.Start(context.Background(), "s1", time.Millisecond, func(context.Context) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		ticks.Add(1)
	})
	waitFor(t, func() bool { return ticks.Load() >= 5 })
	if overlaps.Load() != 0 {
		t.Fatalf("ticks overlapped %d times", overlaps.Load())
	}
}

func TestStopAllWaitsForGoroutines(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	seen := map[string]int{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		r.Start(context.Background(), id, 5*time.Millisecond, func(context.Context) {
			mu.Lock()
			seen[id]++
			mu.Unlock()
		})
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 timers, got %d", r.Len())
	}
	r.StopAll()
	if r.Len() != 0 {
		t.Fatalf("expected no timers after StopAll")
	}
	mu.Lock()
	snapshot := len(seen)
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != snapshot {
		t.Fatalf("ticks ran after StopAll")
	}
}

func TestParentContextCancelRetiresTimer(t *testing.T) {
	r := NewRegistry()
	defer r.StopAll()
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, "s1", 5*time.Millisecond, func(context.Context) {})
	cancel()
	waitFor(t, func() bool { return !r.Active("s1") })
}
