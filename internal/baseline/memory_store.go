package baseline

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory baseline store for demo/development mode.
type MemoryStore struct {
	baselines map[string]*Baseline
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory baseline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{baselines: make(map[string]*Baseline)}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.baselines[userID]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (m *MemoryStore) Upsert(ctx context.Context, b *Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baselines[b.UserID] = b.Clone()
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
