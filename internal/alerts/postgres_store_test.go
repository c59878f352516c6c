package alerts

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/safepay/guard/internal/idgen"
	"github.com/safepay/guard/internal/risk"
	"github.com/safepay/guard/internal/testutil"
)

// seedAlertRow satisfies the alert table's foreign keys and returns a
// persisted PENDING alert.
func seedAlertRow(t *testing.T, db *sql.DB, store *PostgresStore) *Alert {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := idgen.WithPrefix("usr_")
	txnID := idgen.WithPrefix("txn_")

	if _, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, protection_enabled, created_at, updated_at)
		VALUES ($1, $2, 'Margaret', 'PROTECTED', TRUE, $3, $3)`,
		userID, userID+"@example.com", now); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, merchant, mcc, city, occurred_at, created_at)
		VALUES ($1, $2, 850, 'CoinFlip Bitcoin ATM', 6051, 'Miami', $3, $3)`,
		txnID, userID, now); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	alert := &Alert{
		ID:            idgen.WithPrefix("alr_"),
		TransactionID: txnID,
		UserID:        userID,
		Amount:        850,
		Merchant:      "CoinFlip Bitcoin ATM",
		MCC:           6051,
		City:          "Miami",
		OccurredAt:    now,
		Score:         0.94,
		Tier:          risk.TierCritical,
		Flags: []risk.Flag{
			{Code: "LARGE_AMOUNT", Message: "Much larger than usual", Severity: "high"},
			{Code: "HIGH_RISK_CATEGORY", Message: "Crypto ATM", Severity: "high"},
		},
		Recommendation: risk.Recommendation(risk.TierCritical),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Create(ctx, alert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return alert
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	want := seedAlertRow(t, db, store)

	got, err := store.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Tier != risk.TierCritical || got.Status != StatusPending {
		t.Errorf("round-trip lost tier or status: %+v", got)
	}
	if len(got.Flags) != 2 || got.Flags[0].Code != "LARGE_AMOUNT" {
		t.Errorf("flags did not survive: %+v", got.Flags)
	}
	if got.City != "Miami" || got.Score != 0.94 {
		t.Errorf("fields lost: %+v", got)
	}
	if got.ResolvedAt != nil || got.ExplainedAt != nil {
		t.Errorf("fresh alert has resolution or explanation timestamps")
	}

	if _, err := store.Get(ctx, "alr_000000000000000000000000"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("missing alert: got %v, want ErrAlertNotFound", err)
	}
}

func TestPostgresStore_ResolveCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	alert := seedAlertRow(t, db, store)
	now := time.Now().UTC().Truncate(time.Microsecond)

	approval := &Approval{
		ID:        idgen.WithPrefix("apv_"),
		AlertID:   alert.ID,
		UserID:    alert.UserID,
		Decision:  DecisionDenied,
		Note:      "not her purchase",
		CreatedAt: now,
	}
	if err := store.Resolve(ctx, alert.ID, StatusDenied, now, approval); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got, err := store.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusDenied || got.ResolvedAt == nil {
		t.Errorf("resolution not persisted: %+v", got)
	}

	// The approval rode in the same transaction
	apv, err := store.ApprovalByAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("ApprovalByAlert failed: %v", err)
	}
	if apv.Decision != DecisionDenied || apv.Note != "not her purchase" {
		t.Errorf("approval wrong: %+v", apv)
	}

	// Second resolution loses the compare-and-set
	err = store.Resolve(ctx, alert.ID, StatusApproved, now, nil)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second resolve: got %v, want ErrAlreadyResolved", err)
	}

	err = store.Resolve(ctx, "alr_000000000000000000000000", StatusApproved, now, nil)
	if !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("missing alert: got %v, want ErrAlertNotFound", err)
	}
}

func TestPostgresStore_AttachExplanation(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	alert := seedAlertRow(t, db, store)
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := store.AttachExplanation(ctx, alert.ID,
		"A large crypto ATM charge was flagged.",
		[]string{"much larger than usual", "first time at this merchant"},
		"Check with the account holder before approving.", now)
	if err != nil {
		t.Fatalf("AttachExplanation failed: %v", err)
	}

	got, err := store.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Summary == "" || len(got.Reasons) != 2 || got.ExplainedAt == nil {
		t.Errorf("explanation not persisted: %+v", got)
	}
	if got.Status != StatusPending {
		t.Errorf("explanation must not touch status, got %s", got.Status)
	}
}

func TestPostgresStore_Listing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	first := seedAlertRow(t, db, store)
	second := seedAlertRow(t, db, store)

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := store.Resolve(ctx, second.ID, StatusApproved, now, nil); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Status filter
	pending, err := store.ListByUsers(ctx, []string{first.UserID, second.UserID}, StatusPending, 50)
	if err != nil {
		t.Fatalf("ListByUsers failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Errorf("pending = %v", pending)
	}

	// No filter returns both
	all, err := store.ListByUsers(ctx, []string{first.UserID, second.UserID}, "", 50)
	if err != nil {
		t.Fatalf("ListByUsers failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d alerts, want 2", len(all))
	}

	// Expiry sweep query only sees stale PENDING alerts
	stale, err := store.ListPendingBefore(ctx, time.Now().UTC().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("ListPendingBefore failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != first.ID {
		t.Errorf("stale = %v", stale)
	}
	none, err := store.ListPendingBefore(ctx, time.Now().UTC().Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("ListPendingBefore failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("future cutoff returned %d alerts", len(none))
	}
}
