// Package features turns a raw transaction plus a behavioral baseline
// into the fixed feature vector consumed by the risk scorer.
//
// The pipeline is pure: no I/O, no clock reads, no mutation of the
// baseline. The same transaction and baseline snapshot always produce
// the same vector.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/safepay/guard/internal/baseline"
)

var (
	ErrInvalidAmount    = errors.New("amount must be a non-negative finite number")
	ErrInvalidTimestamp = errors.New("timestamp is required")
)

// Feature indices. The order is part of the scoring contract and must
// never change without versioning the model.
const (
	IdxAmountRatio = iota
	IdxAmountZScore
	IdxAboveP95
	IdxRolling7dRatio
	IdxNewMerchant
	IdxNewCategory
	IdxHighRiskCategory
	IdxCommonCategory
	IdxHourUnusualness
	IdxUnusualHour
	IdxVelocity1h
	IdxNewCity
	IdxRiskSignalCount

	NumFeatures
)

var featureNames = [NumFeatures]string{
	"amount_ratio",
	"amount_zscore",
	"above_p95",
	"rolling_7d_ratio",
	"is_new_merchant",
	"is_new_category",
	"is_high_risk_category",
	"is_common_category",
	"hour_unusualness",
	"is_unusual_hour",
	"velocity_1h",
	"is_new_city",
	"risk_signal_count",
}

// Vector is the fixed-order feature vector.
type Vector [NumFeatures]float64

// Names returns the feature names in index order.
func Names() []string {
	return featureNames[:]
}

// Map returns the vector keyed by feature name, for explanations and logs.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range featureNames {
		m[name] = v[i]
	}
	return m
}

// Behavioral thresholds shared with the risk scorer's flag logic.
const (
	// LargeAmountRatio is the amount-to-average ratio that marks a
	// transaction as far outside the user's normal spending.
	LargeAmountRatio = 3.0
	// AboveAverageRatio marks a transaction as noticeably above average.
	AboveAverageRatio = 1.5
	// RareHourProb is the empirical hour probability below which an hour
	// counts as unusual for this specific user.
	RareHourProb = 0.02
	// VelocityFlagCount is the 1-hour transaction count that signals a burst.
	VelocityFlagCount = 3
	// UnusualHourStart and UnusualHourEnd bound the population-level
	// unusual window (1 AM through 5 AM inclusive).
	UnusualHourStart = 1
	UnusualHourEnd   = 5
)

// highRiskMCCs are merchant categories disproportionately involved in
// elder-fraud schemes: crypto, gambling, quasi-cash, wires, ATMs.
var highRiskMCCs = map[int]bool{
	6051: true, // quasi-cash / crypto
	7995: true, // gambling
	6012: true, // financial institutions, merchandise and services
	4814: true, // telecom (gift card / phone scams)
	6010: true, // manual cash disbursements
	6011: true, // automated cash disbursements (ATM)
}

// commonSeniorMCCs are everyday categories typical for the protected
// population: groceries, pharmacy, restaurants, transit, lodging,
// retail, fuel, medical.
var commonSeniorMCCs = map[int]bool{
	5411: true,
	5912: true,
	5812: true,
	4111: true,
	7011: true,
	5311: true,
	5541: true,
	8011: true,
}

// IsHighRiskMCC reports whether the merchant category is high risk.
func IsHighRiskMCC(mcc int) bool {
	return highRiskMCCs[mcc]
}

// IsCommonMCC reports whether the merchant category is an everyday one.
func IsCommonMCC(mcc int) bool {
	return commonSeniorMCCs[mcc]
}

// IsUnusualHour reports whether the hour falls in the 1-5 AM window.
func IsUnusualHour(hour int) bool {
	return hour >= UnusualHourStart && hour <= UnusualHourEnd
}

// Input is one transaction as seen by the feature pipeline.
type Input struct {
	Amount   float64
	Merchant string
	MCC      int
	City     string
	At       time.Time
}

// Build computes the feature vector for a transaction against a
// baseline snapshot. A nil baseline (user with no history) produces
// population-neutral values: ratio 1.0, zscore 0, novelty flags off.
func Build(in Input, b *baseline.Baseline) (Vector, error) {
	var v Vector

	if in.Amount < 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return v, fmt.Errorf("%w: %v", ErrInvalidAmount, in.Amount)
	}
	if in.At.IsZero() {
		return v, ErrInvalidTimestamp
	}

	hour := in.At.Hour()
	hasHistory := b != nil && b.TxnCount > 0

	// Amount features
	v[IdxAmountRatio] = 1.0
	if hasHistory && b.AvgAmount > 0 {
		v[IdxAmountRatio] = in.Amount / b.AvgAmount
	}
	if hasHistory && b.StdAmount > 0 {
		v[IdxAmountZScore] = (in.Amount - b.AvgAmount) / b.StdAmount
	}
	if hasHistory && b.P95Amount > 0 && in.Amount > b.P95Amount {
		v[IdxAboveP95] = 1
	}

	// Rolling spend
	v[IdxRolling7dRatio] = 1.0
	if hasHistory {
		if weekly := b.WeeklyAvgSpend(); weekly > 0 {
			v[IdxRolling7dRatio] = (b.SpendWithin(in.At, 7*24*time.Hour) + in.Amount) / weekly
		}
	}

	// Novelty features fire only once there is history to be novel against
	if hasHistory {
		if in.Merchant != "" && !b.KnowsMerchant(in.Merchant) {
			v[IdxNewMerchant] = 1
		}
		if in.MCC > 0 && !b.KnowsCategory(in.MCC) {
			v[IdxNewCategory] = 1
		}
		if in.City != "" && !b.KnowsCity(in.City) {
			v[IdxNewCity] = 1
		}
	}

	// Category features
	if IsHighRiskMCC(in.MCC) {
		v[IdxHighRiskCategory] = 1
	}
	if IsCommonMCC(in.MCC) {
		v[IdxCommonCategory] = 1
	}

	// Time features
	if hasHistory {
		v[IdxHourUnusualness] = 1 - b.HourProb(hour)
	}
	if IsUnusualHour(hour) {
		v[IdxUnusualHour] = 1
	}

	// Velocity (counts this transaction)
	v[IdxVelocity1h] = 1
	if hasHistory {
		v[IdxVelocity1h] = float64(b.VelocityWithin(in.At, time.Hour) + 1)
	}

	// Composite signal count
	signals := 0
	if v[IdxAmountRatio] > LargeAmountRatio {
		signals++
	}
	if v[IdxAboveP95] == 1 {
		signals++
	}
	if v[IdxNewMerchant] == 1 {
		signals++
	}
	if v[IdxHighRiskCategory] == 1 {
		signals++
	}
	if v[IdxNewCity] == 1 {
		signals++
	}
	if v[IdxUnusualHour] == 1 || (hasHistory && b.HourProb(hour) < RareHourProb) {
		signals++
	}
	if v[IdxVelocity1h] >= VelocityFlagCount {
		signals++
	}
	v[IdxRiskSignalCount] = float64(signals)

	return v, nil
}
