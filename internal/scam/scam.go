// Package scam classifies messages and contact details shown to an
// account holder: a suspicious email, a text demanding payment, a
// number that keeps calling.
//
// The classifier is a fixed set of signal rules over the combined
// message text, blended through a logistic score. Each rule names one
// recognizable scam pattern; the verdict lists every rule with whether
// it fired, so a reviewer sees the same evidence the score saw.
package scam

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/safepay/guard/internal/risk"
)

// Verdict labels.
const (
	LabelScam = "SCAM"
	LabelSafe = "SAFE"
)

// Signal is one named indicator evaluated against the message.
type Signal struct {
	Name        string `json:"name"`
	Detected    bool   `json:"detected"`
	Description string `json:"description"`
}

// Input is the material to scan. At least one field must be set.
type Input struct {
	EmailAddress string
	EmailBody    string
	SMSContent   string
	PhoneNumber  string
}

// Empty reports whether no field is set.
func (in Input) Empty() bool {
	return in.EmailAddress == "" && in.EmailBody == "" &&
		in.SMSContent == "" && in.PhoneNumber == ""
}

// Verdict is the classification outcome for one message.
type Verdict struct {
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	ConfidencePct string    `json:"confidencePct"`
	RiskLevel     risk.Tier `json:"riskLevel"`
	Signals       []Signal  `json:"signals"`
	Summary       string    `json:"summary"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}

type rule struct {
	name        string
	description string
	match       func(text string) bool
}

func keywordRule(name, description string, keywords ...string) rule {
	return rule{name: name, description: description, match: func(text string) bool {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}}
}

// Common brand names with digit or letter swaps.
var typosquatPattern = regexp.MustCompile(
	`paypa[l1]|amaz[o0]n|micros[o0]ft|app[l1]e|g[o0]{2}gle|netfl[i1]x|ba[n]k[o0]famerica`)

var rules = []rule{
	keywordRule("Urgency",
		"Urgency language detected (e.g. 'act now', 'expires today')",
		"urgent", "immediately", "now", "today", "expires",
		"final notice", "last chance", "act now"),
	keywordRule("Prize",
		"Prize or reward language detected (e.g. 'you won', 'free gift')",
		"won", "winner", "congratulations", "prize", "free", "claim", "selected"),
	keywordRule("Threat",
		"Threatening language detected (e.g. 'arrest', 'suspended', 'locked')",
		"arrest", "suspended", "locked", "police", "warrant",
		"cancelled", "disconnected", "legal action"),
	keywordRule("Money",
		"Suspicious payment method mentioned (e.g. gift cards, wire transfer, crypto)",
		"wire", "gift card", "bitcoin", "crypto", "transfer",
		"grant", "inheritance", "western union"),
	keywordRule("Suspicious Domain",
		"Suspicious domain or URL pattern detected",
		".xyz", ".info", "-secure", "-verify", "-login",
		"-alert", "-update", "-confirm", "-billing"),
	{
		name:        "Typosquat",
		description: "Known brand name misspelled (typosquatting attempt)",
		match:       typosquatPattern.MatchString,
	},
	keywordRule("Government Impersonation",
		"Government agency impersonation detected (IRS, SSA, Medicare)",
		"irs", "social security", "medicare", "fbi",
		"government grant", "social security administration"),
	keywordRule("Credential Request",
		"Requests sensitive information (password, SSN, bank details)",
		"password", "ssn", "social security number", "bank account",
		"credit card", "verify your", "confirm your", "fsa id"),
}

// Fixed logistic weights over the fired signal count, standing in for
// a trained text classifier. Two fired signals cross the SCAM line.
const (
	textBias     = -2.0
	signalWeight = 1.1
)

// Analyze scans the message material and returns the verdict. It is
// deterministic aside from the analysis timestamp.
func Analyze(in Input) *Verdict {
	text := corpus(in)

	signals := make([]Signal, 0, len(rules))
	fired := 0
	for _, r := range rules {
		detected := r.match(text)
		if detected {
			fired++
		}
		signals = append(signals, Signal{
			Name:        r.name,
			Detected:    detected,
			Description: r.description,
		})
	}

	prob := 1 / (1 + math.Exp(-(textBias + signalWeight*float64(fired))))
	label := LabelSafe
	if prob >= 0.5 {
		label = LabelScam
	}

	// Agreement between the score and the signal count firms up the verdict.
	switch {
	case fired >= 3 && label == LabelScam:
		prob = math.Min(prob*1.1, 0.99)
	case fired == 0 && label == LabelSafe:
		prob = math.Max(prob*0.9, 0.01)
	}

	confidence := prob
	if label == LabelSafe {
		confidence = 1 - prob
	}

	return &Verdict{
		Label:         label,
		Confidence:    math.Round(confidence*10000) / 10000,
		ConfidencePct: fmt.Sprintf("%.1f%%", confidence*100),
		RiskLevel:     levelFor(prob),
		Signals:       signals,
		Summary:       summarize(label, signals),
		AnalyzedAt:    time.Now().UTC(),
	}
}

// levelFor buckets the scam probability. The thresholds sit higher
// than the transaction tiers: a message is judged on its own, with no
// behavioral baseline behind it.
func levelFor(prob float64) risk.Tier {
	switch {
	case prob >= 0.85:
		return risk.TierCritical
	case prob >= 0.65:
		return risk.TierHigh
	case prob >= 0.45:
		return risk.TierMedium
	default:
		return risk.TierLow
	}
}

func summarize(label string, signals []Signal) string {
	var detected []string
	for _, s := range signals {
		if s.Detected {
			detected = append(detected, s.Name)
		}
	}
	if label == LabelScam {
		if len(detected) > 0 {
			return fmt.Sprintf("This appears to be a scam. Detected signals: %s.", strings.Join(detected, ", "))
		}
		return "This content has characteristics consistent with scam messages."
	}
	return "No significant scam indicators detected. This appears to be legitimate."
}

// corpus folds every supplied field into one lowercase blob. The email
// address appears twice so domain tricks weigh as heavily as body text.
func corpus(in Input) string {
	parts := make([]string, 0, 5)
	if in.EmailAddress != "" {
		parts = append(parts, in.EmailAddress, in.EmailAddress)
	}
	if in.EmailBody != "" {
		parts = append(parts, in.EmailBody)
	}
	if in.SMSContent != "" {
		parts = append(parts, in.SMSContent)
	}
	if in.PhoneNumber != "" {
		parts = append(parts, "phone "+in.PhoneNumber)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
