package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/safepay/guard/internal/risk"
)

// PostgresStore persists alerts and approvals in PostgreSQL.
//
// The resolve compare-and-set is a single UPDATE guarded on
// status = 'PENDING'; the approval insert rides in the same
// transaction so a crash can never leave a resolution without its
// authoritative approval record.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, transaction_id, user_id, amount, merchant, mcc, city, occurred_at,
		       score, tier, flags, recommendation, status,
		       summary, reasons, action, explained_at,
		       resolved_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Alert) error {
	flagsJSON, _ := json.Marshal(a.Flags)
	if a.Flags == nil {
		flagsJSON = []byte("[]")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, transaction_id, user_id, amount, merchant, mcc, city, occurred_at,
			score, tier, flags, recommendation, status,
			summary, reasons, action, explained_at,
			resolved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20
		)`,
		a.ID, a.TransactionID, a.UserID, a.Amount, a.Merchant, a.MCC, nullString(a.City), a.OccurredAt,
		a.Score, string(a.Tier), flagsJSON, a.Recommendation, string(a.Status),
		nullString(a.Summary), pq.Array(a.Reasons), nullString(a.Action), nullTime(a.ExplainedAt),
		nullTime(a.ResolvedAt), a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	return a, err
}

func (p *PostgresStore) ListByUsers(ctx context.Context, userIDs []string, status Status, limit int) ([]*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = ANY($1)`
	args := []interface{}{pq.Array(userIDs)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAlerts(rows)
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE status = 'PENDING' AND created_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAlerts(rows)
}

func (p *PostgresStore) Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time, approval *Approval) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `
		UPDATE alerts SET status = $1, resolved_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'PENDING'`,
		string(status), resolvedAt, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Lost the race, or no such alert. Tell them apart.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAlreadyResolved
		}
		return ErrAlertNotFound
	}

	if approval != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO approvals (id, alert_id, user_id, decision, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			approval.ID, approval.AlertID, approval.UserID,
			string(approval.Decision), nullString(approval.Note), approval.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) AttachExplanation(ctx context.Context, id, summary string, reasons []string, action string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE alerts SET summary = $1, reasons = $2, action = $3, explained_at = $4, updated_at = $4
		WHERE id = $5`,
		summary, pq.Array(reasons), action, at, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (p *PostgresStore) ApprovalByAlert(ctx context.Context, alertID string) (*Approval, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, alert_id, user_id, decision, note, created_at
		FROM approvals WHERE alert_id = $1`, alertID)

	a := &Approval{}
	var (
		decision string
		note     sql.NullString
	)
	err := row.Scan(&a.ID, &a.AlertID, &a.UserID, &decision, &note, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Decision = Decision(decision)
	a.Note = note.String
	return a, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(s scanner) (*Alert, error) {
	a := &Alert{}
	var (
		city        sql.NullString
		tier        string
		status      string
		flagsJSON   []byte
		summary     sql.NullString
		action      sql.NullString
		explainedAt sql.NullTime
		resolvedAt  sql.NullTime
	)
	err := s.Scan(
		&a.ID, &a.TransactionID, &a.UserID, &a.Amount, &a.Merchant, &a.MCC, &city, &a.OccurredAt,
		&a.Score, &tier, &flagsJSON, &a.Recommendation, &status,
		&summary, pq.Array(&a.Reasons), &action, &explainedAt,
		&resolvedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.City = city.String
	a.Tier = risk.Tier(tier)
	a.Status = Status(status)
	a.Summary = summary.String
	a.Action = action.String
	if len(flagsJSON) > 0 {
		_ = json.Unmarshal(flagsJSON, &a.Flags)
	}
	if explainedAt.Valid {
		a.ExplainedAt = &explainedAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}

func scanAlerts(rows *sql.Rows) ([]*Alert, error) {
	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
