package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Observation is one scored transaction to fold into a user's profile.
type Observation struct {
	UserID   string
	Amount   float64
	Merchant string
	MCC      int
	City     string
	At       time.Time
}

// Tracker applies incremental baseline updates on the transaction write
// path. Updates happen after scoring so the score never sees its own
// transaction in the profile.
type Tracker struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a baseline tracker.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// userLock returns the mutex serializing updates for one user.
func (t *Tracker) userLock(userID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[userID] = l
	}
	return l
}

// Observe loads the user's baseline, folds in the observation, and
// persists the result. A missing baseline is created on first sight.
// The get-fold-upsert sequence holds a per-user lock so concurrent
// submissions for the same user never lose an observation.
func (t *Tracker) Observe(ctx context.Context, obs Observation) error {
	l := t.userLock(obs.UserID)
	l.Lock()
	defer l.Unlock()

	b, err := t.store.Get(ctx, obs.UserID)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	if b == nil {
		b = New(obs.UserID)
	}

	b.Observe(obs.Amount, obs.Merchant, obs.MCC, obs.City, obs.At)

	if err := t.store.Upsert(ctx, b); err != nil {
		return fmt.Errorf("persist baseline: %w", err)
	}

	t.logger.Debug("baseline updated",
		"user_id", obs.UserID,
		"txn_count", b.TxnCount,
		"avg_amount", b.AvgAmount,
	)
	return nil
}

// Snapshot returns a read-only copy of a user's baseline, or nil when
// the user has no history yet.
func (t *Tracker) Snapshot(ctx context.Context, userID string) (*Baseline, error) {
	b, err := t.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return b, nil
}
