package alerts

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// sweepBatchSize bounds the number of alerts expired per tick.
const sweepBatchSize = 100

// Timer periodically expires PENDING alerts older than the TTL.
// A TTL of zero disables expiry entirely.
type Timer struct {
	service  *Service
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new alert-expiry timer.
func NewTimer(service *Service, ttl time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		ttl:      ttl,
		interval: 1 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	if t.ttl <= 0 {
		t.logger.Info("alert expiry disabled (ALERT_TTL is 0)")
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-t.ttl)
	stale, err := t.service.store.ListPendingBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		t.logger.Warn("failed to list stale alerts", "error", err)
		return
	}

	expired := 0
	for _, alert := range stale {
		if err := t.service.Expire(ctx, alert.ID); err != nil {
			// A concurrent decision beating the sweep is expected.
			if !errors.Is(err, ErrAlreadyResolved) {
				t.logger.Warn("failed to expire alert", "alert_id", alert.ID, "error", err)
			}
			continue
		}
		expired++
	}
	if expired > 0 {
		t.logger.Info("stale alerts expired", "count", expired)
	}
}
