// Package baseline maintains per-user behavioral spending profiles.
//
// A baseline is the learned picture of what "normal" looks like for one
// user: typical amounts, known merchants and cities, which hours of the
// day they transact. It is updated incrementally after each transaction
// is scored, and read as an immutable snapshot by the feature pipeline.
package baseline

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"
)

// Limits on the bounded history kept inside a baseline.
const (
	maxRecentAmounts = 200                // sample for the p95 estimate
	recentWindow     = 7 * 24 * time.Hour // trailing window for velocity and spend
)

// Event is a single observed transaction, kept in the trailing window
// for velocity and rolling-spend features.
type Event struct {
	Amount float64   `json:"amount"`
	At     time.Time `json:"at"`
}

// Baseline is the learned spending profile for a single user.
// All aggregates are derived purely from that user's own history.
type Baseline struct {
	UserID        string         `json:"userId"`
	TxnCount      int            `json:"txnCount"`
	AvgAmount     float64        `json:"avgAmount"`
	StdAmount     float64        `json:"stdAmount"`
	P95Amount     float64        `json:"p95Amount"`
	TotalSpend    float64        `json:"totalSpend"`
	M2            float64        `json:"-"` // Welford variance accumulator, persisted but not exposed
	Merchants     map[string]int `json:"merchants"`  // merchant name → txn count
	Categories    map[string]int `json:"categories"` // MCC (stringified) → txn count
	Cities        map[string]int `json:"cities"`     // city → txn count
	HourHistogram [24]int        `json:"hourHistogram"`
	RecentAmounts []float64      `json:"-"` // bounded reservoir for p95
	RecentEvents  []Event        `json:"-"` // trailing 7 days
	FirstSeen     time.Time      `json:"firstSeen"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// New creates an empty baseline for a user.
func New(userID string) *Baseline {
	return &Baseline{
		UserID:     userID,
		Merchants:  make(map[string]int),
		Categories: make(map[string]int),
		Cities:     make(map[string]int),
	}
}

// KnowsMerchant returns true if the user has transacted with this merchant before.
func (b *Baseline) KnowsMerchant(merchant string) bool {
	return b.Merchants[merchant] > 0
}

// KnowsCategory returns true if the user has transacted in this MCC before.
func (b *Baseline) KnowsCategory(mcc int) bool {
	return b.Categories[strconv.Itoa(mcc)] > 0
}

// KnowsCity returns true if the user has transacted in this city before.
func (b *Baseline) KnowsCity(city string) bool {
	return b.Cities[city] > 0
}

// HourProb returns the empirical probability of the user transacting
// in the given hour of day.
func (b *Baseline) HourProb(hour int) float64 {
	if b.TxnCount == 0 || hour < 0 || hour > 23 {
		return 0
	}
	return float64(b.HourHistogram[hour]) / float64(b.TxnCount)
}

// VelocityWithin counts observed transactions in the window ending at t.
func (b *Baseline) VelocityWithin(t time.Time, window time.Duration) int {
	cutoff := t.Add(-window)
	n := 0
	for _, ev := range b.RecentEvents {
		if ev.At.After(cutoff) && !ev.At.After(t) {
			n++
		}
	}
	return n
}

// SpendWithin sums observed amounts in the window ending at t.
func (b *Baseline) SpendWithin(t time.Time, window time.Duration) float64 {
	cutoff := t.Add(-window)
	total := 0.0
	for _, ev := range b.RecentEvents {
		if ev.At.After(cutoff) && !ev.At.After(t) {
			total += ev.Amount
		}
	}
	return total
}

// WeeklyAvgSpend returns the user's average weekly spend over their
// whole history, with a floor of one week to avoid early blowups.
func (b *Baseline) WeeklyAvgSpend() float64 {
	if b.TxnCount == 0 {
		return 0
	}
	weeks := time.Since(b.FirstSeen).Hours() / (24 * 7)
	if weeks < 1 {
		weeks = 1
	}
	return b.TotalSpend / weeks
}

// Observe folds a single transaction into the baseline.
// Welford's algorithm keeps mean and variance numerically stable
// without retaining full history.
func (b *Baseline) Observe(amount float64, merchant string, mcc int, city string, at time.Time) {
	if b.TxnCount == 0 {
		b.FirstSeen = at
	}

	b.TxnCount++
	delta := amount - b.AvgAmount
	b.AvgAmount += delta / float64(b.TxnCount)
	b.M2 += delta * (amount - b.AvgAmount)
	if b.TxnCount > 1 {
		b.StdAmount = math.Sqrt(b.M2 / float64(b.TxnCount-1))
	}
	b.TotalSpend += amount

	if merchant != "" {
		b.Merchants[merchant]++
	}
	if mcc > 0 {
		b.Categories[strconv.Itoa(mcc)]++
	}
	if city != "" {
		b.Cities[city]++
	}
	if h := at.Hour(); h >= 0 && h < 24 {
		b.HourHistogram[h]++
	}

	b.RecentAmounts = append(b.RecentAmounts, amount)
	if len(b.RecentAmounts) > maxRecentAmounts {
		b.RecentAmounts = b.RecentAmounts[len(b.RecentAmounts)-maxRecentAmounts:]
	}
	b.P95Amount = percentile(b.RecentAmounts, 0.95)

	b.RecentEvents = append(b.RecentEvents, Event{Amount: amount, At: at})
	b.trimRecent(at)

	b.LastUpdated = at
}

// trimRecent drops events outside the trailing window.
func (b *Baseline) trimRecent(now time.Time) {
	cutoff := now.Add(-recentWindow)
	i := 0
	for ; i < len(b.RecentEvents); i++ {
		if b.RecentEvents[i].At.After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.RecentEvents = append([]Event(nil), b.RecentEvents[i:]...)
	}
}

// percentile returns the p-th percentile of values (nearest-rank).
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Clone returns a deep copy safe for concurrent readers.
func (b *Baseline) Clone() *Baseline {
	cp := *b
	cp.Merchants = make(map[string]int, len(b.Merchants))
	for k, v := range b.Merchants {
		cp.Merchants[k] = v
	}
	cp.Categories = make(map[string]int, len(b.Categories))
	for k, v := range b.Categories {
		cp.Categories[k] = v
	}
	cp.Cities = make(map[string]int, len(b.Cities))
	for k, v := range b.Cities {
		cp.Cities[k] = v
	}
	cp.RecentAmounts = append([]float64(nil), b.RecentAmounts...)
	cp.RecentEvents = append([]Event(nil), b.RecentEvents...)
	return &cp
}

// Store persists baselines. Get returns (nil, nil) when the user has
// no baseline yet; that is a normal state, not an error.
type Store interface {
	Get(ctx context.Context, userID string) (*Baseline, error)
	Upsert(ctx context.Context, b *Baseline) error
}
