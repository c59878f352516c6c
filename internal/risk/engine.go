package risk

import (
	"context"
	"math"

	"github.com/safepay/guard/internal/features"
)

// Engine is the in-process ensemble scorer, used whenever no external
// scoring service is configured. It is deterministic and allocation-light;
// a call costs a few hundred nanoseconds.
type Engine struct{}

// NewEngine creates the in-process scorer.
func NewEngine() *Engine {
	return &Engine{}
}

// Score computes the ensemble result for a feature vector. The
// transaction identity is unused; the engine is a pure function of the
// features.
func (e *Engine) Score(_ context.Context, _ ScoreInput, v features.Vector) Result {
	anomaly := anomalyScore(v)
	fraud := fraudProbability(v)

	score := Combine(anomaly, fraud)
	return Result{
		Score:            score,
		Tier:             TierFor(score),
		AnomalyScore:     anomaly,
		FraudProbability: fraud,
		Flags:            BuildFlags(v),
	}
}

// anomalyScore measures distance from the user's own baseline as a
// weighted blend of deviation signals, each saturating at 1.
func anomalyScore(v features.Vector) float64 {
	z := math.Abs(v[features.IdxAmountZScore])
	ratioExcess := v[features.IdxAmountRatio] - 1
	if ratioExcess < 0 {
		ratioExcess = 0
	}
	velocityExcess := v[features.IdxVelocity1h] - 1
	if velocityExcess < 0 {
		velocityExcess = 0
	}

	s := 0.40*saturate(z/4) +
		0.20*saturate(ratioExcess/4) +
		0.15*v[features.IdxAboveP95] +
		0.15*v[features.IdxHourUnusualness] +
		0.10*saturate(velocityExcess/4)

	if s > 1 {
		s = 1
	}
	return s
}

// Fixed logistic weights for the fraud-shape signal. These mirror the
// trained model's coefficients closely enough for the default engine;
// a real model behind SCORING_URL takes precedence when configured.
const (
	wBias           = -2.2
	wHighRisk       = 1.6
	wNewMerchant    = 0.7
	wNewLocation    = 0.6
	wUnusualHour    = 0.8
	wAboveP95       = 0.9
	wRatioExcess    = 1.2
	wCommonCategory = -0.8
	wSignalCount    = 0.45
)

// fraudProbability is a fixed-weight logistic over the boolean-ish
// fraud-shape features.
func fraudProbability(v features.Vector) float64 {
	ratioExcess := saturate((v[features.IdxAmountRatio] - 1) / 4)

	logit := wBias +
		wHighRisk*v[features.IdxHighRiskCategory] +
		wNewMerchant*v[features.IdxNewMerchant] +
		wNewLocation*v[features.IdxNewCity] +
		wUnusualHour*v[features.IdxUnusualHour] +
		wAboveP95*v[features.IdxAboveP95] +
		wRatioExcess*ratioExcess +
		wCommonCategory*v[features.IdxCommonCategory] +
		wSignalCount*v[features.IdxRiskSignalCount]

	return 1 / (1 + math.Exp(-logit))
}

// saturate clips x into [0,1].
func saturate(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Compile-time assertion that Engine implements Scorer.
var _ Scorer = (*Engine)(nil)
