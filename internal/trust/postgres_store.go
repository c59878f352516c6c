package trust

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists trusted links in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trust-link store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const linkColumns = `id, protected_id, reviewer_id, status, created_at, updated_at, revoked_at`

func (p *PostgresStore) Create(ctx context.Context, l *Link) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trusted_links (id, protected_id, reviewer_id, status, created_at, updated_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.ProtectedID, l.ReviewerID, string(l.Status), l.CreatedAt, l.UpdatedAt, nullTime(l.RevokedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, protectedID, reviewerID string) (*Link, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM trusted_links
		WHERE protected_id = $1 AND reviewer_id = $2`, protectedID, reviewerID)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, ErrLinkNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Link) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trusted_links SET status = $1, updated_at = $2, revoked_at = $3
		WHERE protected_id = $4 AND reviewer_id = $5`,
		string(l.Status), l.UpdatedAt, nullTime(l.RevokedAt), l.ProtectedID, l.ReviewerID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (p *PostgresStore) ListByProtected(ctx context.Context, protectedID string) ([]*Link, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM trusted_links
		WHERE protected_id = $1
		ORDER BY created_at`, protectedID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanLinks(rows)
}

func (p *PostgresStore) ListActiveByReviewer(ctx context.Context, reviewerID string) ([]*Link, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM trusted_links
		WHERE reviewer_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at`, reviewerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanLinks(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLink(s scanner) (*Link, error) {
	l := &Link{}
	var (
		status    string
		revokedAt sql.NullTime
	)
	err := s.Scan(&l.ID, &l.ProtectedID, &l.ReviewerID, &status, &l.CreatedAt, &l.UpdatedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	l.Status = Status(status)
	if revokedAt.Valid {
		l.RevokedAt = &revokedAt.Time
	}
	return l, nil
}

func scanLinks(rows *sql.Rows) ([]*Link, error) {
	var out []*Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
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
