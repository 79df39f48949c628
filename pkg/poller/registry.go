package poller

import (
	"context"
	"sync"
	"time"
)

// TickFunc runs once per interval. ctx is cancelled when the timer is retired.
type TickFunc func(ctx context.Context)

type entry struct {
	gen    uint64
	cancel context.CancelFunc
}

// Registry owns at most one periodic poller per session id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	nextGen uint64
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Start begins calling tick every interval for sessionID, replacing any timer
// already registered under that id. Ticks for one session never overlap.
func (r *Registry) Start(ctx context.Context, sessionID string, interval time.Duration, tick TickFunc) {
	if interval <= 0 {
		interval = time.Second
	}
	tctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if prev, ok := r.entries[sessionID]; ok {
		prev.cancel()
	}
	r.nextGen++
	gen := r.nextGen
	r.entries[sessionID] = entry{gen: gen, cancel: cancel}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(tctx, sessionID, gen, interval, tick)
}

func (r *Registry) run(ctx context.Context, sessionID string, gen uint64, interval time.Duration, tick TickFunc) {
	defer r.wg.Done()
	defer r.forget(sessionID, gen)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			tick(ctx)
		}
	}
}

// forget drops the entry only if it still belongs to the exiting goroutine.
func (r *Registry) forget(sessionID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[sessionID]; ok && cur.gen == gen {
		cur.cancel()
		delete(r.entries, sessionID)
	}
}

// Stop retires the timer for sessionID. It does not wait for a running tick,
// so a tick may stop its own timer. Reports whether a timer was registered.
func (r *Registry) Stop(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[sessionID]
	if !ok {
		return false
	}
	cur.cancel()
	delete(r.entries, sessionID)
	return true
}

// Active reports whether a timer is registered for sessionID.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[sessionID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StopAll retires every timer and waits for their goroutines to exit.
// It must not be called from inside a tick.
func (r *Registry) StopAll() {
	r.mu.Lock()
	for id, e := range r.entries {
		e.cancel()
		delete(r.entries, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
