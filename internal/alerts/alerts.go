// Package alerts implements the approval workflow for elevated-risk
// transactions.
//
// Lifecycle:
//  1. A transaction scores at or above the alert threshold → PENDING alert
//  2. The protected party or a trusted reviewer decides → APPROVED or DENIED
//  3. Nobody decides within the TTL → EXPIRED
//
// A resolved alert is immutable. Concurrent decisions race through a
// store-level compare-and-set keyed on PENDING status: exactly one
// decision wins, the rest observe ErrAlreadyResolved, and exactly one
// approval record becomes authoritative.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/safepay/guard/internal/idgen"
	"github.com/safepay/guard/internal/metrics"
	"github.com/safepay/guard/internal/risk"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAlreadyResolved = errors.New("alert already resolved")
	ErrUnauthorized    = errors.New("not authorized for this alert")
	ErrInvalidDecision = errors.New("decision must be APPROVED or DENIED")
)

// Status represents the state of an alert.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusExpired  Status = "EXPIRED"
)

// Decision is a human resolution of an alert.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionDenied   Decision = "DENIED"
)

// TxnInfo is the transaction snapshot an alert is raised for.
// Alerts keep their own copy of these facts; the alert stays readable
// even if the transactions store is unavailable.
type TxnInfo struct {
	ID         string
	UserID     string
	Amount     float64
	Merchant   string
	MCC        int
	City       string
	OccurredAt time.Time
}

// Alert pauses one elevated-risk transaction behind a human decision.
type Alert struct {
	ID             string      `json:"id"`
	TransactionID  string      `json:"transactionId"`
	UserID         string      `json:"userId"` // protected party
	Amount         float64     `json:"amount"`
	Merchant       string      `json:"merchant"`
	MCC            int         `json:"mcc"`
	City           string      `json:"city,omitempty"`
	OccurredAt     time.Time   `json:"occurredAt"`
	Score          float64     `json:"score"`
	Tier           risk.Tier   `json:"tier"`
	Flags          []risk.Flag `json:"flags"`
	Recommendation string      `json:"recommendation"`
	Status         Status      `json:"status"`

	// Explanation fields stay empty until the generator responds.
	Summary     string     `json:"summary,omitempty"`
	Reasons     []string   `json:"reasons,omitempty"`
	Action      string     `json:"action,omitempty"`
	ExplainedAt *time.Time `json:"explainedAt,omitempty"`

	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the alert is in a final state.
func (a *Alert) IsTerminal() bool {
	return a.Status != StatusPending
}

// Approval is the authoritative record of who resolved an alert and how.
type Approval struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"userId"` // deciding actor
	Decision  Decision  `json:"decision"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists alerts and approvals. Resolve is the compare-and-set:
// it transitions id from PENDING to status atomically, writing the
// approval (when non-nil) in the same step, and returns
// ErrAlreadyResolved when the alert is no longer PENDING.
type Store interface {
	Create(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	ListByUsers(ctx context.Context, userIDs []string, status Status, limit int) ([]*Alert, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Alert, error)
	Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time, approval *Approval) error
	AttachExplanation(ctx context.Context, id, summary string, reasons []string, action string, at time.Time) error
	ApprovalByAlert(ctx context.Context, alertID string) (*Approval, error)
}

// Authorizer decides whether an actor may act on a protected party's
// alerts. Satisfied by *trust.Service; evaluated fresh on every call.
type Authorizer interface {
	IsAuthorized(ctx context.Context, actorID, protectedID string) (bool, error)
	WatchedProtected(ctx context.Context, reviewerID string) ([]string, error)
}

// Notifier pushes realtime alert events. Satisfied by *notify.Notifier.
type Notifier interface {
	AlertCreated(ctx context.Context, alert *Alert)
	AlertUpdated(ctx context.Context, alert *Alert)
}

// DecideRequest is the body of a decide call.
type DecideRequest struct {
	Decision string `json:"decision" binding:"required"`
	Note     string `json:"note"`
}

// Service implements alert business logic.
type Service struct {
	store    Store
	auth     Authorizer
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a new alert service.
func NewService(store Store, auth Authorizer, logger *slog.Logger) *Service {
	return &Service{store: store, auth: auth, logger: logger}
}

// WithNotifier adds realtime fanout for alert events.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Create raises a PENDING alert for a scored transaction when the score
// meets the threshold. Returns (nil, nil) below the threshold.
// An alerting result always carries at least one flag.
func (s *Service) Create(ctx context.Context, txn TxnInfo, result risk.Result, threshold float64) (*Alert, error) {
	if result.Score < threshold {
		return nil, nil
	}

	now := time.Now().UTC()
	alert := &Alert{
		ID:             idgen.WithPrefix("alr_"),
		TransactionID:  txn.ID,
		UserID:         txn.UserID,
		Amount:         txn.Amount,
		Merchant:       txn.Merchant,
		MCC:            txn.MCC,
		City:           txn.City,
		OccurredAt:     txn.OccurredAt,
		Score:          result.Score,
		Tier:           result.Tier,
		Flags:          risk.EnsureFlag(result.Flags, result.Score, threshold),
		Recommendation: risk.Recommendation(result.Tier),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Tier)).Inc()
	s.logger.Info("alert created",
		"alert_id", alert.ID,
		"transaction_id", alert.TransactionID,
		"user_id", alert.UserID,
		"score", alert.Score,
		"tier", alert.Tier,
	)

	if s.notifier != nil {
		s.notifier.AlertCreated(ctx, alert)
	}
	return alert, nil
}

// Decide resolves a PENDING alert. The actor must be the protected
// party or a currently trusted reviewer; the winner of a concurrent
// race gets the resolution, everyone else gets ErrAlreadyResolved.
func (s *Service) Decide(ctx context.Context, alertID, actorID string, req DecideRequest) (*Alert, *Approval, error) {
	decision := Decision(req.Decision)
	if decision != DecisionApproved && decision != DecisionDenied {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidDecision, req.Decision)
	}

	alert, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}

	ok, err := s.auth.IsAuthorized(ctx, actorID, alert.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return nil, nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	approval := &Approval{
		ID:        idgen.WithPrefix("apv_"),
		AlertID:   alertID,
		UserID:    actorID,
		Decision:  decision,
		Note:      req.Note,
		CreatedAt: now,
	}

	if err := s.store.Resolve(ctx, alertID, Status(decision), now, approval); err != nil {
		return nil, nil, err
	}

	resolved, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}

	metrics.AlertDecisionsTotal.WithLabelValues(string(decision)).Inc()
	metrics.AlertResolutionDuration.Observe(now.Sub(resolved.CreatedAt).Seconds())
	s.logger.Info("alert resolved",
		"alert_id", alertID,
		"decision", decision,
		"decided_by", actorID,
	)

	if s.notifier != nil {
		s.notifier.AlertUpdated(ctx, resolved)
	}
	return resolved, approval, nil
}

// Expire resolves a stale PENDING alert through the same CAS as Decide.
// No approval record is written; nobody decided.
func (s *Service) Expire(ctx context.Context, alertID string) error {
	now := time.Now().UTC()
	if err := s.store.Resolve(ctx, alertID, StatusExpired, now, nil); err != nil {
		return err
	}

	metrics.AlertDecisionsTotal.WithLabelValues("expired").Inc()
	s.logger.Info("alert expired", "alert_id", alertID)

	if s.notifier != nil {
		if alert, err := s.store.Get(ctx, alertID); err == nil {
			s.notifier.AlertUpdated(ctx, alert)
		}
	}
	return nil
}

// AttachExplanation patches the generated explanation onto an alert.
// Status and resolution are never touched; the explanation arriving
// after a decision is fine, it just fills in the "why".
func (s *Service) AttachExplanation(ctx context.Context, alertID, summary string, reasons []string, action string) error {
	if err := s.store.AttachExplanation(ctx, alertID, summary, reasons, action, time.Now().UTC()); err != nil {
		return err
	}
	if s.notifier != nil {
		if alert, err := s.store.Get(ctx, alertID); err == nil {
			s.notifier.AlertUpdated(ctx, alert)
		}
	}
	return nil
}

// Get returns an alert if the actor is the protected party or a
// currently trusted reviewer.
func (s *Service) Get(ctx context.Context, alertID, actorID string) (*Alert, error) {
	alert, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	ok, err := s.auth.IsAuthorized(ctx, actorID, alert.UserID)
	if err != nil {
		return nil, fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	return alert, nil
}

// List returns the alerts visible to an actor: their own plus those of
// every protected party they currently watch.
func (s *Service) List(ctx context.Context, actorID string, status Status, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	watched, err := s.auth.WatchedProtected(ctx, actorID)
	if err != nil {
		return nil, err
	}
	userIDs := append([]string{actorID}, watched...)
	return s.store.ListByUsers(ctx, userIDs, status, limit)
}

// Approval returns the authoritative approval for a resolved alert.
func (s *Service) Approval(ctx context.Context, alertID string) (*Approval, error) {
	return s.store.ApprovalByAlert(ctx, alertID)
}
