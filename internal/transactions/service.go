package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/safepay/guard/internal/alerts"
	"github.com/safepay/guard/internal/baseline"
	"github.com/safepay/guard/internal/features"
	"github.com/safepay/guard/internal/idgen"
	"github.com/safepay/guard/internal/metrics"
	"github.com/safepay/guard/internal/risk"
	"github.com/safepay/guard/internal/traces"
	"github.com/safepay/guard/internal/users"
	"github.com/safepay/guard/internal/validation"
)

// UserSource resolves submitting users. Satisfied by *users.Service.
type UserSource interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// Explainer kicks off background explanation generation.
// Satisfied by *explain.Worker.
type Explainer interface {
	ExplainAsync(alertID string, rc *risk.Context)
}

// Service runs the transaction submit pipeline:
// validate → snapshot baseline → features → score → persist →
// learn → alert → explain.
type Service struct {
	store     Store
	users     UserSource
	tracker   *baseline.Tracker
	scorer    risk.Scorer
	alerts    *alerts.Service
	explainer Explainer

	scoringTimeout time.Duration
	threshold      float64 // server default, overridable per user
	logger         *slog.Logger
}

// NewService creates a new transaction service.
func NewService(store Store, userSrc UserSource, tracker *baseline.Tracker, scorer risk.Scorer,
	alertSvc *alerts.Service, scoringTimeout time.Duration, threshold float64, logger *slog.Logger) *Service {
	return &Service{
		store:          store,
		users:          userSrc,
		tracker:        tracker,
		scorer:         scorer,
		alerts:         alertSvc,
		scoringTimeout: scoringTimeout,
		threshold:      threshold,
		logger:         logger,
	}
}

// WithExplainer adds background explanation generation for new alerts.
func (s *Service) WithExplainer(e Explainer) *Service {
	s.explainer = e
	return s
}

// Submit ingests and scores one transaction. The transaction is always
// recorded with its score; an alert is raised only when the score meets
// the user's effective threshold and protection is on.
//
// Scoring failures never reject the transaction (the scorer falls back
// internally); only validation and unknown users do.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Transaction, *alerts.Alert, error) {
	ctx, span := traces.StartSpan(ctx, "transactions.submit",
		traces.UserID(req.UserID),
		traces.Amount(req.Amount),
		traces.MerchantCategory(req.MCC),
	)
	defer span.End()

	if errs := validation.Validate(
		validation.Required("user_id", req.UserID),
		validation.Required("merchant", req.Merchant),
		validation.PositiveAmount("amount", req.Amount),
		validation.ValidMCC("mcc", req.MCC),
	); len(errs) > 0 {
		return nil, nil, errs
	}

	user, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("submitting user: %w", err)
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	// The snapshot is read before this transaction is observed, so the
	// score judges the transaction against history that excludes it.
	snapshot, err := s.tracker.Snapshot(ctx, user.ID)
	if err != nil {
		// Degrade to a no-history score rather than rejecting.
		s.logger.Error("baseline unavailable, scoring without history", "user_id", user.ID, "error", err)
		snapshot = nil
	}

	vec, err := features.Build(features.Input{
		Amount:   req.Amount,
		Merchant: req.Merchant,
		MCC:      req.MCC,
		City:     req.City,
		At:       occurredAt,
	}, snapshot)
	if err != nil {
		return nil, nil, err
	}

	// The ID is minted before scoring so a remote scorer can reference
	// the transaction it judged.
	txnID := idgen.WithPrefix("txn_")

	scoreCtx, cancel := context.WithTimeout(ctx, s.scoringTimeout)
	timer := prometheus.NewTimer(metrics.ScoringDuration)
	result := s.scorer.Score(scoreCtx, risk.ScoreInput{
		TransactionID: txnID,
		UserID:        user.ID,
		Amount:        req.Amount,
		Merchant:      req.Merchant,
		MCC:           req.MCC,
		Timestamp:     occurredAt,
		City:          req.City,
		DeviceID:      req.Device,
	}, vec)
	timer.ObserveDuration()
	cancel()

	metrics.TransactionsScoredTotal.WithLabelValues(string(result.Tier)).Inc()
	span.SetAttributes(traces.RiskScore(result.Score), traces.RiskTier(string(result.Tier)))

	now := time.Now().UTC()
	txn := &Transaction{
		ID:          txnID,
		UserID:      user.ID,
		Amount:      req.Amount,
		Currency:    currency,
		Merchant:    req.Merchant,
		MCC:         req.MCC,
		Description: req.Description,
		City:        req.City,
		Device:      req.Device,
		OccurredAt:  occurredAt,
		CreatedAt:   now,
		Scoring: &Scoring{
			Score:            result.Score,
			Tier:             result.Tier,
			AnomalyScore:     result.AnomalyScore,
			FraudProbability: result.FraudProbability,
			Flags:            result.Flags,
			Fallback:         result.Fallback,
			ScoredAt:         now,
		},
	}

	if err := s.store.Create(ctx, txn); err != nil {
		return nil, nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	// Learn after scoring; a baseline write failure costs one
	// observation, not the transaction.
	if err := s.tracker.Observe(ctx, baseline.Observation{
		UserID:   user.ID,
		Amount:   req.Amount,
		Merchant: req.Merchant,
		MCC:      req.MCC,
		City:     req.City,
		At:       occurredAt,
	}); err != nil {
		s.logger.Error("baseline update failed", "user_id", user.ID, "txn_id", txn.ID, "error", err)
	}

	if !user.ProtectionEnabled {
		return txn, nil, nil
	}

	threshold := user.EffectiveThreshold(s.threshold)
	alert, err := s.alerts.Create(ctx, alerts.TxnInfo{
		ID:         txn.ID,
		UserID:     txn.UserID,
		Amount:     txn.Amount,
		Merchant:   txn.Merchant,
		MCC:        txn.MCC,
		City:       txn.City,
		OccurredAt: txn.OccurredAt,
	}, result, threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to raise alert: %w", err)
	}

	if alert != nil && s.explainer != nil {
		s.explainer.ExplainAsync(alert.ID, s.explainContext(txn, alert, vec, snapshot, result))
	}

	return txn, alert, nil
}

// explainContext assembles the explanation input from data the pipeline
// already computed; nothing is re-derived or re-fetched.
func (s *Service) explainContext(txn *Transaction, alert *alerts.Alert, vec features.Vector, snapshot *baseline.Baseline, result risk.Result) *risk.Context {
	rc := &risk.Context{
		UserID:         txn.UserID,
		Amount:         txn.Amount,
		Merchant:       txn.Merchant,
		MCC:            txn.MCC,
		City:           txn.City,
		Hour:           txn.OccurredAt.Hour(),
		Score:          alert.Score,
		Tier:           alert.Tier,
		Flags:          alert.Flags,
		Features:       vec.Map(),
		PromptTemplate: result.PromptTemplate,
	}
	if snapshot != nil {
		rc.AvgAmount = snapshot.AvgAmount
		rc.TxnCount = snapshot.TxnCount
	}
	return rc
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns a user's transactions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
