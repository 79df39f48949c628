package guard

import "sync"

// Guard admits at most one result fetch per session at a time.
type Guard interface {
	// TryAcquire marks sessionID pending. It returns false if it already was,
	// and an error when the guard could not decide.
	TryAcquire(sessionID string) (bool, error)
	// Release clears the pending mark. Releasing a free session is a no-op.
	Release(sessionID string)
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{pending: make(map[string]struct{})}
}

func (g *MemoryGuard) TryAcquire(sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.pending[sessionID]; held {
		return false, nil
	}
	g.pending[sessionID] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, sessionID)
}

// Held reports whether sessionID is currently pending.
func (g *MemoryGuard) Held(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.pending[sessionID]
	return held
}
