package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/safepay/guard/internal/risk"
)

// MemoryStore is an in-memory alert store for demo/development mode.
// The resolve compare-and-set happens under the store lock, so
// concurrent decisions serialize exactly as they do in Postgres.
type MemoryStore struct {
	alerts    map[string]*Alert
	approvals map[string]*Approval // keyed by alert ID
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:    make(map[string]*Alert),
		approvals: make(map[string]*Approval),
	}
}

func (m *MemoryStore) Create(ctx context.Context, alert *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts[alert.ID] = copyAlert(alert)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return copyAlert(alert), nil
}

func (m *MemoryStore) ListByUsers(ctx context.Context, userIDs []string, status Status, limit int) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		ids[id] = true
	}

	var out []*Alert
	for _, a := range m.alerts {
		if !ids[a.UserID] {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, copyAlert(a))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Alert
	for _, a := range m.alerts {
		if a.Status == StatusPending && a.CreatedAt.Before(before) {
			out = append(out, copyAlert(a))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time, approval *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	if alert.Status != StatusPending {
		return ErrAlreadyResolved
	}

	alert.Status = status
	t := resolvedAt
	alert.ResolvedAt = &t
	alert.UpdatedAt = resolvedAt
	if approval != nil {
		cp := *approval
		m.approvals[id] = &cp
	}
	return nil
}

func (m *MemoryStore) AttachExplanation(ctx context.Context, id, summary string, reasons []string, action string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	alert.Summary = summary
	alert.Reasons = append([]string(nil), reasons...)
	alert.Action = action
	t := at
	alert.ExplainedAt = &t
	alert.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ApprovalByAlert(ctx context.Context, alertID string) (*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	approval, ok := m.approvals[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *approval
	return &cp, nil
}

// copyAlert deep-copies an alert so callers never share slice backing
// arrays with the stored record.
func copyAlert(a *Alert) *Alert {
	cp := *a
	cp.Flags = append([]risk.Flag(nil), a.Flags...)
	cp.Reasons = append([]string(nil), a.Reasons...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	if a.ExplainedAt != nil {
		t := *a.ExplainedAt
		cp.ExplainedAt = &t
	}
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
