package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/safepay/guard/internal/baseline"
)

func TestBuild_NoHistory(t *testing.T) {
	v, err := Build(Input{
		Amount:   75,
		Merchant: "Target",
		MCC:      5311,
		City:     "Austin",
		At:       time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if v[IdxAmountRatio] != 1.0 {
		t.Errorf("ratio = %v, want neutral 1.0", v[IdxAmountRatio])
	}
	if v[IdxAmountZScore] != 0 {
		t.Errorf("zscore = %v, want 0", v[IdxAmountZScore])
	}
	// No history means nothing can be novel
	if v[IdxNewMerchant] != 0 || v[IdxNewCity] != 0 || v[IdxNewCategory] != 0 {
		t.Errorf("novelty flags should be off without history: %+v", v.Map())
	}
	if v[IdxVelocity1h] != 1 {
		t.Errorf("velocity = %v, want 1 (this transaction)", v[IdxVelocity1h])
	}
	// 5311 is a common everyday category
	if v[IdxCommonCategory] != 1 {
		t.Error("expected common category flag for MCC 5311")
	}
}

func TestBuild_Validation(t *testing.T) {
	at := time.Now()

	if _, err := Build(Input{Amount: -5, At: at}, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := Build(Input{Amount: math.NaN(), At: at}, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("NaN amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := Build(Input{Amount: math.Inf(1), At: at}, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Inf amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := Build(Input{Amount: 10}, nil); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("zero timestamp: got %v, want ErrInvalidTimestamp", err)
	}
}

func TestBuild_AmountFeatures(t *testing.T) {
	now := time.Now().UTC()
	b := baseline.New("usr_test")
	for i := 0; i < 20; i++ {
		b.Observe(50, "Kroger", 5411, "Dayton", now.Add(-time.Duration(i+2)*24*time.Hour))
	}

	v, err := Build(Input{Amount: 200, Merchant: "Kroger", MCC: 5411, City: "Dayton", At: now}, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := v[IdxAmountRatio]; got != 4.0 {
		t.Errorf("ratio = %v, want 4.0", got)
	}
	if v[IdxAboveP95] != 1 {
		t.Error("expected above-p95 flag for 200 against constant 50s")
	}
	// All observations identical, std is 0, zscore stays 0
	if v[IdxAmountZScore] != 0 {
		t.Errorf("zscore = %v, want 0 with zero variance", v[IdxAmountZScore])
	}
}

func TestBuild_Novelty(t *testing.T) {
	now := time.Now().UTC()
	b := baseline.New("usr_test")
	b.Observe(40, "Publix", 5411, "Naples", now.Add(-24*time.Hour))

	v, err := Build(Input{Amount: 40, Merchant: "NewShop", MCC: 7995, City: "Vegas", At: now}, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if v[IdxNewMerchant] != 1 {
		t.Error("expected new-merchant flag")
	}
	if v[IdxNewCategory] != 1 {
		t.Error("expected new-category flag")
	}
	if v[IdxNewCity] != 1 {
		t.Error("expected new-city flag")
	}
	if v[IdxHighRiskCategory] != 1 {
		t.Error("expected high-risk flag for MCC 7995")
	}

	// Known everything: no novelty
	v, err = Build(Input{Amount: 40, Merchant: "Publix", MCC: 5411, City: "Naples", At: now}, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if v[IdxNewMerchant] != 0 || v[IdxNewCategory] != 0 || v[IdxNewCity] != 0 {
		t.Errorf("expected no novelty for known merchant/category/city: %+v", v.Map())
	}
}

func TestBuild_UnusualHour(t *testing.T) {
	for hour, want := range map[int]float64{0: 0, 1: 1, 3: 1, 5: 1, 6: 0, 14: 0, 23: 0} {
		at := time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
		v, err := Build(Input{Amount: 10, At: at}, nil)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if v[IdxUnusualHour] != want {
			t.Errorf("hour %d: unusual = %v, want %v", hour, v[IdxUnusualHour], want)
		}
	}
}

func TestBuild_Velocity(t *testing.T) {
	now := time.Now().UTC()
	b := baseline.New("usr_test")
	// Three transactions within the last half hour
	for i := 0; i < 3; i++ {
		b.Observe(20, "Shop", 5411, "", now.Add(-time.Duration(i*10)*time.Minute))
	}

	v, err := Build(Input{Amount: 20, Merchant: "Shop", MCC: 5411, At: now}, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// 3 recent + this one
	if v[IdxVelocity1h] != 4 {
		t.Errorf("velocity = %v, want 4", v[IdxVelocity1h])
	}
	if v[IdxRiskSignalCount] < 1 {
		t.Error("burst should contribute to the signal count")
	}
}

func TestBuild_Pure(t *testing.T) {
	now := time.Now().UTC()
	b := baseline.New("usr_test")
	b.Observe(40, "Publix", 5411, "Naples", now.Add(-24*time.Hour))
	before := b.Clone()

	in := Input{Amount: 900, Merchant: "X", MCC: 6051, City: "Y", At: now}
	v1, err := Build(in, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	v2, err := Build(in, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if v1 != v2 {
		t.Error("same input and baseline must produce the same vector")
	}
	if b.TxnCount != before.TxnCount || b.AvgAmount != before.AvgAmount {
		t.Error("Build must not mutate the baseline")
	}
}

func TestVectorMap(t *testing.T) {
	var v Vector
	v[IdxAmountRatio] = 2.5

	m := v.Map()
	if len(m) != NumFeatures {
		t.Fatalf("map has %d entries, want %d", len(m), NumFeatures)
	}
	if m["amount_ratio"] != 2.5 {
		t.Errorf("amount_ratio = %v, want 2.5", m["amount_ratio"])
	}
	if len(Names()) != NumFeatures {
		t.Errorf("Names() has %d entries, want %d", len(Names()), NumFeatures)
	}
}
