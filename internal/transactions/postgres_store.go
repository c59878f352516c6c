package transactions

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/safepay/guard/internal/risk"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, user_id, amount, currency, merchant, mcc, description, city, device,
		     occurred_at, created_at,
		     score, tier, anomaly_score, fraud_probability, flags, fallback, scored_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	var (
		score, anomaly, fraud sql.NullFloat64
		tier                  sql.NullString
		flagsJSON             []byte
		fallback              sql.NullBool
		scoredAt              sql.NullTime
	)
	if t.Scoring != nil {
		score = sql.NullFloat64{Float64: t.Scoring.Score, Valid: true}
		anomaly = sql.NullFloat64{Float64: t.Scoring.AnomalyScore, Valid: true}
		fraud = sql.NullFloat64{Float64: t.Scoring.FraudProbability, Valid: true}
		tier = sql.NullString{String: string(t.Scoring.Tier), Valid: true}
		flagsJSON, _ = json.Marshal(t.Scoring.Flags)
		if t.Scoring.Flags == nil {
			flagsJSON = []byte("[]")
		}
		fallback = sql.NullBool{Bool: t.Scoring.Fallback, Valid: true}
		scoredAt = sql.NullTime{Time: t.Scoring.ScoredAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, amount, currency, merchant, mcc, description, city, device,
			occurred_at, created_at,
			score, tier, anomaly_score, fraud_probability, flags, fallback, scored_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15, $16, $17, $18
		)`,
		t.ID, t.UserID, t.Amount, t.Currency, t.Merchant, t.MCC,
		nullString(t.Description), nullString(t.City), nullString(t.Device),
		t.OccurredAt, t.CreatedAt,
		score, tier, anomaly, fraud, flagsJSON, fallback, scoredAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTxn(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTxn(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var (
		description, city, device sql.NullString
		score, anomaly, fraud     sql.NullFloat64
		tier                      sql.NullString
		flagsJSON                 []byte
		fallback                  sql.NullBool
		scoredAt                  sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.Merchant, &t.MCC,
		&description, &city, &device,
		&t.OccurredAt, &t.CreatedAt,
		&score, &tier, &anomaly, &fraud, &flagsJSON, &fallback, &scoredAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.City = city.String
	t.Device = device.String
	if score.Valid {
		sc := &Scoring{
			Score:            score.Float64,
			Tier:             risk.Tier(tier.String),
			AnomalyScore:     anomaly.Float64,
			FraudProbability: fraud.Float64,
			Fallback:         fallback.Bool,
			ScoredAt:         scoredAt.Time,
		}
		if len(flagsJSON) > 0 {
			_ = json.Unmarshal(flagsJSON, &sc.Flags)
		}
		t.Scoring = sc
	}
	return t, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
