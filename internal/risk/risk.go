// Package risk scores transactions for fraud and maps scores to
// reviewable tiers and human-readable flags.
//
// The ensemble combines two independently interpretable signals:
// an anomaly score (how far outside this user's normal behavior) and a
// fraud probability (how much the transaction resembles known fraud
// shapes). Both live in [0,1].
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/safepay/guard/internal/features"
)

// Tier buckets a risk score for the approval workflow.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// Ensemble weights and the fail-open fallback score.
const (
	AnomalyWeight = 0.6
	FraudWeight   = 0.4

	// FallbackScore is the conservative score assumed when the scoring
	// path is unavailable. It lands in MEDIUM so an alert is still
	// raised at the default threshold rather than silently waving the
	// transaction through.
	FallbackScore = 0.35
)

// ValidTier reports whether s names a known tier.
func ValidTier(s string) bool {
	switch Tier(s) {
	case TierLow, TierMedium, TierHigh, TierCritical:
		return true
	}
	return false
}

// TierFor maps a score to its tier.
// Boundaries: LOW [0,0.30) MEDIUM [0.30,0.50) HIGH [0.50,0.75) CRITICAL [0.75,1].
func TierFor(score float64) Tier {
	switch {
	case score < 0.30:
		return TierLow
	case score < 0.50:
		return TierMedium
	case score < 0.75:
		return TierHigh
	default:
		return TierCritical
	}
}

// Combine blends the two ensemble signals and clips to [0,1].
func Combine(anomaly, fraudProb float64) float64 {
	score := AnomalyWeight*anomaly + FraudWeight*fraudProb
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Flag severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Flag codes form a closed vocabulary; downstream consumers (UI,
// explanation templates) switch on the code, never on the message.
const (
	FlagLargeAmount        = "LARGE_AMOUNT"
	FlagAboveAverageAmount = "ABOVE_AVERAGE_AMOUNT"
	FlagNewMerchant        = "NEW_MERCHANT"
	FlagHighRiskCategory   = "HIGH_RISK_CATEGORY"
	FlagNewLocation        = "NEW_LOCATION"
	FlagUnusualTime        = "UNUSUAL_TIME"
	FlagHighVelocity       = "HIGH_VELOCITY"
	FlagUnusualPattern     = "UNUSUAL_PATTERN"
)

// Flag is one human-readable risk signal attached to a result.
type Flag struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Result is the full scoring outcome for one transaction.
type Result struct {
	Score            float64  `json:"score"`
	Tier             Tier     `json:"tier"`
	AnomalyScore     float64  `json:"anomalyScore"`
	FraudProbability float64  `json:"fraudProbability"`
	Flags            []Flag   `json:"flags"`
	Context          *Context `json:"context,omitempty"`
	Fallback         bool     `json:"fallback,omitempty"`

	// PromptTemplate is a pre-rendered explanation prompt supplied by
	// the remote scoring service, when it chose to send one. Empty for
	// the in-process engine and on fallback.
	PromptTemplate string `json:"promptTemplate,omitempty"`
}

// Context carries everything the explanation generator needs, assembled
// entirely from data already computed on the scoring path.
type Context struct {
	UserID      string             `json:"userId"`
	Amount      float64            `json:"amount"`
	Merchant    string             `json:"merchant"`
	MCC         int                `json:"mcc"`
	City        string             `json:"city,omitempty"`
	Hour        int                `json:"hour"`
	Score       float64            `json:"score"`
	Tier        Tier               `json:"tier"`
	Flags       []Flag             `json:"flags"`
	Features    map[string]float64 `json:"features"`
	AvgAmount   float64            `json:"avgAmount"`
	TxnCount    int                `json:"txnCount"`

	// PromptTemplate, when non-empty, is a service-rendered prompt
	// that replaces the locally built one.
	PromptTemplate string `json:"promptTemplate,omitempty"`
}

// ScoreInput identifies the transaction being scored. The in-process
// engine works from the feature vector alone; the remote client sends
// these fields to the scoring service, which expects the raw
// transaction rather than pre-computed features.
type ScoreInput struct {
	TransactionID string
	UserID        string
	Amount        float64
	Merchant      string
	MCC           int
	Timestamp     time.Time
	City          string
	DeviceID      string
}

// Scorer produces a Result for a transaction and its feature vector.
// Implementations never return an error: scoring failures resolve to
// the fallback result so transaction submission stays fail-open.
type Scorer interface {
	Score(ctx context.Context, in ScoreInput, v features.Vector) Result
}

// FallbackResult is the neutral result used when scoring is unavailable.
func FallbackResult() Result {
	return Result{
		Score:            FallbackScore,
		Tier:             TierFor(FallbackScore),
		AnomalyScore:     FallbackScore,
		FraudProbability: FallbackScore,
		Fallback:         true,
	}
}

// BuildFlags derives the flag list from a feature vector.
// At most one amount flag fires; LARGE_AMOUNT wins over ABOVE_AVERAGE_AMOUNT.
func BuildFlags(v features.Vector) []Flag {
	var flags []Flag

	ratio := v[features.IdxAmountRatio]
	switch {
	case ratio > features.LargeAmountRatio:
		flags = append(flags, Flag{
			Code:     FlagLargeAmount,
			Message:  fmt.Sprintf("Amount is %.1fx this user's average transaction", ratio),
			Severity: SeverityHigh,
		})
	case ratio > features.AboveAverageRatio:
		flags = append(flags, Flag{
			Code:     FlagAboveAverageAmount,
			Message:  fmt.Sprintf("Amount is %.1fx this user's average transaction", ratio),
			Severity: SeverityMedium,
		})
	}

	if v[features.IdxNewMerchant] == 1 {
		flags = append(flags, Flag{
			Code:     FlagNewMerchant,
			Message:  "First transaction with this merchant",
			Severity: SeverityMedium,
		})
	}
	if v[features.IdxHighRiskCategory] == 1 {
		flags = append(flags, Flag{
			Code:     FlagHighRiskCategory,
			Message:  "Merchant category is frequently involved in fraud",
			Severity: SeverityHigh,
		})
	}
	if v[features.IdxNewCity] == 1 {
		flags = append(flags, Flag{
			Code:     FlagNewLocation,
			Message:  "Transaction from a location this user has not used before",
			Severity: SeverityMedium,
		})
	}
	if v[features.IdxUnusualHour] == 1 || v[features.IdxHourUnusualness] > 1-features.RareHourProb {
		flags = append(flags, Flag{
			Code:     FlagUnusualTime,
			Message:  "Transaction at an hour this user rarely transacts",
			Severity: SeverityMedium,
		})
	}
	if v[features.IdxVelocity1h] >= features.VelocityFlagCount {
		flags = append(flags, Flag{
			Code:     FlagHighVelocity,
			Message:  fmt.Sprintf("%d transactions within the last hour", int(v[features.IdxVelocity1h])),
			Severity: SeverityHigh,
		})
	}

	return flags
}

// EnsureFlag guarantees an alerting result carries at least one flag.
// When the score crossed the threshold without any specific signal, the
// generic UNUSUAL_PATTERN flag explains that the combination itself was
// unusual.
func EnsureFlag(flags []Flag, score, threshold float64) []Flag {
	if len(flags) > 0 || score < threshold {
		return flags
	}
	return append(flags, Flag{
		Code:     FlagUnusualPattern,
		Message:  "The combination of transaction details is unusual for this user",
		Severity: SeverityMedium,
	})
}

// Recommendation returns the suggested next step for a tier.
func Recommendation(tier Tier) string {
	switch tier {
	case TierLow:
		return "No action needed."
	case TierMedium:
		return "Review this transaction when convenient."
	case TierHigh:
		return "Contact the account holder to verify this transaction."
	case TierCritical:
		return "Do not approve before speaking with the account holder directly."
	default:
		return "Review this transaction."
	}
}
