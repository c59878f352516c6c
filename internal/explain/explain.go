// Package explain produces plain-language explanations of why an alert
// was raised.
//
// The generator is best-effort: a language-model backend is asked
// first, and when it fails, times out, or returns something malformed,
// a deterministic template takes over. Explanation always happens off
// the transaction path; it can delay an alert's "why", never its
// existence.
package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/safepay/guard/internal/metrics"
	"github.com/safepay/guard/internal/risk"
)

// Explanation is what reviewers read on an alert.
type Explanation struct {
	Summary    string   `json:"summary"`
	Reasons    []string `json:"reasons"`
	Action     string   `json:"action"`
	IsFallback bool     `json:"isFallback,omitempty"`
}

// Generator turns a scoring context into an explanation.
type Generator interface {
	Explain(ctx context.Context, rc *risk.Context) (*Explanation, error)
}

// Fallback builds the deterministic explanation from the flags and
// score alone. It never fails.
func Fallback(rc *risk.Context) *Explanation {
	metrics.ExplanationFallbacksTotal.Inc()

	var reasons []string
	for _, f := range rc.Flags {
		reasons = append(reasons, f.Message)
		if len(reasons) == 4 {
			break
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "The combination of transaction details is unusual for this account")
	}
	// An explanation always gives 2 to 4 reasons; pad a thin flag list
	// with the score itself.
	if len(reasons) < 2 {
		reasons = append(reasons, fmt.Sprintf(
			"The overall risk score of %.2f puts this charge in the %s range for this account",
			rc.Score, strings.ToLower(string(rc.Tier)),
		))
	}

	return &Explanation{
		Summary: fmt.Sprintf(
			"A %s charge of $%.2f at %s was flagged as %s risk (score %.2f).",
			categoryWord(rc.MCC), rc.Amount, rc.Merchant,
			strings.ToLower(string(rc.Tier)), rc.Score,
		),
		Reasons:    reasons,
		Action:     risk.Recommendation(rc.Tier),
		IsFallback: true,
	}
}

// categoryWord maps an MCC to a rough human word for the summary line.
func categoryWord(mcc int) string {
	switch {
	case mcc == 6051:
		return "crypto or quasi-cash"
	case mcc == 7995:
		return "gambling"
	case mcc == 6010 || mcc == 6011:
		return "cash withdrawal"
	case mcc == 4814:
		return "telecom"
	case mcc == 5411:
		return "grocery"
	case mcc == 5912:
		return "pharmacy"
	case mcc == 5812:
		return "restaurant"
	default:
		return "card"
	}
}
