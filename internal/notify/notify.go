// Package notify fans alert events out to the protected party and
// their trusted reviewers over the realtime hub.
//
// Recipients are recomputed from the trust graph at emit time, never
// cached: a reviewer revoked a millisecond ago receives nothing.
// Delivery is fire-and-forget and at-most-once; losing a notification
// never fails the operation that triggered it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/safepay/guard/internal/alerts"
	"github.com/safepay/guard/internal/metrics"
	"github.com/safepay/guard/internal/realtime"
)

// ReviewerSource lists the currently active reviewers of a protected
// party. Satisfied by *trust.Service.
type ReviewerSource interface {
	ActiveReviewers(ctx context.Context, protectedID string) ([]string, error)
}

// Notifier pushes alert lifecycle events to the hub.
type Notifier struct {
	hub       *realtime.Hub
	reviewers ReviewerSource
	logger    *slog.Logger
}

// New creates a notifier.
func New(hub *realtime.Hub, reviewers ReviewerSource, logger *slog.Logger) *Notifier {
	return &Notifier{hub: hub, reviewers: reviewers, logger: logger}
}

// AlertCreated emits alert:new to the protected party and every
// reviewer active at this moment. The payload includes the reviewer
// list so clients can render who else was notified.
func (n *Notifier) AlertCreated(ctx context.Context, alert *alerts.Alert) {
	recipients, reviewerIDs := n.recipients(ctx, alert.UserID)
	n.hub.Publish(&realtime.Event{
		Type:      realtime.EventAlertNew,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"alert":     alert,
			"reviewers": reviewerIDs,
		},
	}, recipients)
	metrics.NotificationsSentTotal.WithLabelValues(realtime.EventAlertNew).Inc()
}

// AlertUpdated emits alert:update after a decision, expiry, or
// explanation patch.
func (n *Notifier) AlertUpdated(ctx context.Context, alert *alerts.Alert) {
	recipients, _ := n.recipients(ctx, alert.UserID)
	n.hub.Publish(&realtime.Event{
		Type:      realtime.EventAlertUpdate,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"alert": alert,
		},
	}, recipients)
	metrics.NotificationsSentTotal.WithLabelValues(realtime.EventAlertUpdate).Inc()
}

// recipients returns the fresh recipient set for a protected party.
func (n *Notifier) recipients(ctx context.Context, protectedID string) ([]string, []string) {
	reviewerIDs, err := n.reviewers.ActiveReviewers(ctx, protectedID)
	if err != nil {
		// Degrade to notifying the protected party alone.
		n.logger.Warn("failed to list reviewers for fanout", "user_id", protectedID, "error", err)
		reviewerIDs = nil
	}
	if reviewerIDs == nil {
		reviewerIDs = []string{}
	}
	return append([]string{protectedID}, reviewerIDs...), reviewerIDs
}

// Compile-time assertion that Notifier satisfies the alert service's
// notifier contract.
var _ alerts.Notifier = (*Notifier)(nil)
