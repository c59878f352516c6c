package baseline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists baselines in PostgreSQL. Set-valued fields
// (merchants, categories, cities, histogram, recent windows) live in
// JSONB columns; scalar aggregates get their own columns for querying.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed baseline store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Baseline, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, txn_count, avg_amount, std_amount, p95_amount, total_spend, m2,
		       merchants, categories, cities, hour_histogram,
		       recent_amounts, recent_events, first_seen, last_updated
		FROM baselines WHERE user_id = $1`, userID)

	b := New(userID)
	var (
		merchantsJSON, categoriesJSON, citiesJSON []byte
		histogramJSON, amountsJSON, eventsJSON    []byte
	)
	err := row.Scan(
		&b.UserID, &b.TxnCount, &b.AvgAmount, &b.StdAmount, &b.P95Amount, &b.TotalSpend, &b.M2,
		&merchantsJSON, &categoriesJSON, &citiesJSON, &histogramJSON,
		&amountsJSON, &eventsJSON, &b.FirstSeen, &b.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, col := range []struct {
		name string
		raw  []byte
		dst  interface{}
	}{
		{"merchants", merchantsJSON, &b.Merchants},
		{"categories", categoriesJSON, &b.Categories},
		{"cities", citiesJSON, &b.Cities},
		{"hour_histogram", histogramJSON, &b.HourHistogram},
		{"recent_amounts", amountsJSON, &b.RecentAmounts},
		{"recent_events", eventsJSON, &b.RecentEvents},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("decode baseline %s: %w", col.name, err)
		}
	}
	return b, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, b *Baseline) error {
	merchantsJSON, _ := json.Marshal(b.Merchants)
	categoriesJSON, _ := json.Marshal(b.Categories)
	citiesJSON, _ := json.Marshal(b.Cities)
	histogramJSON, _ := json.Marshal(b.HourHistogram)
	amountsJSON, _ := json.Marshal(b.RecentAmounts)
	eventsJSON, _ := json.Marshal(b.RecentEvents)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO baselines (
			user_id, txn_count, avg_amount, std_amount, p95_amount, total_spend, m2,
			merchants, categories, cities, hour_histogram,
			recent_amounts, recent_events, first_seen, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			txn_count      = EXCLUDED.txn_count,
			avg_amount     = EXCLUDED.avg_amount,
			std_amount     = EXCLUDED.std_amount,
			p95_amount     = EXCLUDED.p95_amount,
			total_spend    = EXCLUDED.total_spend,
			m2             = EXCLUDED.m2,
			merchants      = EXCLUDED.merchants,
			categories     = EXCLUDED.categories,
			cities         = EXCLUDED.cities,
			hour_histogram = EXCLUDED.hour_histogram,
			recent_amounts = EXCLUDED.recent_amounts,
			recent_events  = EXCLUDED.recent_events,
			first_seen     = EXCLUDED.first_seen,
			last_updated   = EXCLUDED.last_updated`,
		b.UserID, b.TxnCount, b.AvgAmount, b.StdAmount, b.P95Amount, b.TotalSpend, b.M2,
		merchantsJSON, categoriesJSON, citiesJSON, histogramJSON,
		amountsJSON, eventsJSON, b.FirstSeen, b.LastUpdated,
	)
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
