package store

import (
	"sync"

	"paper2slides/pkg/domain"
)

// MemoryPersister keeps the last saved snapshot in-process.
type MemoryPersister struct {
	mu    sync.RWMutex
	convs []domain.Conversation
	saves int
}

// NewMemoryPersister initializes an empty in-memory persister.
func NewMemoryPersister(initial ...domain.Conversation) *MemoryPersister {
	return &MemoryPersister{convs: initial}
}

func (m *MemoryPersister) Load() ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Conversation(nil), m.convs...), nil
}

func (m *MemoryPersister) Save(convs []domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = append([]domain.Conversation(nil), convs...)
	m.saves++
	return nil
}

func (m *MemoryPersister) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = nil
	m.saves++
	return nil
}

// Snapshot returns the last saved list.
func (m *MemoryPersister) Snapshot() []domain.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Conversation(nil), m.convs...)
}

// Saves counts Save and Clear calls.
func (m *MemoryPersister) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
