// Package transactions ingests payment transactions and runs them
// through the scoring pipeline.
//
// A transaction's facts are immutable once recorded. The scoring annex
// (score, tier, flags) is written exactly once, at ingest, together
// with the facts; nothing ever rescores a stored transaction.
package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/safepay/guard/internal/risk"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// Transaction is one payment event with its write-once scoring annex.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Merchant    string    `json:"merchant"`
	MCC         int       `json:"mcc"`
	Description string    `json:"description,omitempty"`
	City        string    `json:"city,omitempty"`
	Device      string    `json:"device,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
	CreatedAt   time.Time `json:"createdAt"`

	Scoring *Scoring `json:"scoring,omitempty"`
}

// Scoring is the annex recorded at ingest time.
type Scoring struct {
	Score            float64     `json:"score"`
	Tier             risk.Tier   `json:"tier"`
	AnomalyScore     float64     `json:"anomalyScore"`
	FraudProbability float64     `json:"fraudProbability"`
	Flags            []risk.Flag `json:"flags"`
	Fallback         bool        `json:"fallback,omitempty"`
	ScoredAt         time.Time   `json:"scoredAt"`
}

// Store persists transactions.
type Store interface {
	Create(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)
}

// SubmitRequest contains the parameters for submitting a transaction.
type SubmitRequest struct {
	UserID      string     `json:"user_id" binding:"required"`
	Amount      float64    `json:"amount" binding:"required"`
	Currency    string     `json:"currency"`
	Merchant    string     `json:"merchant" binding:"required"`
	MCC         int        `json:"mcc" binding:"required"`
	Description string     `json:"description"`
	City        string     `json:"city"`
	Device      string     `json:"device"`
	OccurredAt  *time.Time `json:"occurred_at"`
}
