package trust

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory trust-link store for demo/development mode.
type MemoryStore struct {
	links map[string]*Link // key: protectedID + "→" + reviewerID
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory trust-link store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[string]*Link)}
}

func key(protectedID, reviewerID string) string {
	return protectedID + "\x00" + reviewerID
}

func (m *MemoryStore) Create(ctx context.Context, link *Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *link
	m.links[key(link.ProtectedID, link.ReviewerID)] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, protectedID, reviewerID string) (*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.links[key(protectedID, reviewerID)]
	if !ok {
		return nil, ErrLinkNotFound
	}
	cp := *link
	if link.RevokedAt != nil {
		t := *link.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, link *Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(link.ProtectedID, link.ReviewerID)
	if _, ok := m.links[k]; !ok {
		return ErrLinkNotFound
	}
	cp := *link
	m.links[k] = &cp
	return nil
}

func (m *MemoryStore) ListByProtected(ctx context.Context, protectedID string) ([]*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Link
	for _, l := range m.links {
		if l.ProtectedID == protectedID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListActiveByReviewer(ctx context.Context, reviewerID string) ([]*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Link
	for _, l := range m.links {
		if l.ReviewerID == reviewerID && l.Status == StatusActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
