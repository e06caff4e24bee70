package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/refresh"
)

var errNestedTx = errors.New("pgstore: nested transactions are not supported")

// RefreshStore implements refresh.Store over PostgreSQL. Revocations are
// conditional updates on revoked_at IS NULL, so concurrent rotations of one
// token serialize on the row lock and only the first sees a changed row.
type RefreshStore struct {
	db *sql.DB
	q  dbx.DBTX
}

// NewRefreshStore returns a store bound to db.
func NewRefreshStore(db *sql.DB) *RefreshStore {
	return &RefreshStore{db: db, q: db}
}

func (s *RefreshStore) Save(ctx context.Context, rec refresh.Record) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.q.ExecContext(ctx, query, rec.ID, rec.UserID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return refresh.ErrDuplicate
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *RefreshStore) Find(ctx context.Context, id string) (*refresh.Record, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
		FROM refresh_tokens
		WHERE id = $1
	`
	var (
		rec        refresh.Record
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.UserID, &rec.TokenHash, &rec.ExpiresAt, &revokedAt, &replacedBy, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, refresh.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		rec.RevokedAt = &at
	}
	rec.ReplacedBy = replacedBy.String
	return &rec, nil
}

func (s *RefreshStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.Supersede(ctx, id, "", at)
}

func (s *RefreshStore) Supersede(ctx context.Context, id, replacedBy string, at time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`
	res, err := s.q.ExecContext(ctx, query, id, at, sql.NullString{String: replacedBy, Valid: replacedBy != ""})
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return false, refresh.ErrNotFound
	}
	return false, nil
}

func (s *RefreshStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`
	res, err := s.q.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// WithinTx runs fn inside a database transaction using dbx.WithTx.
func (s *RefreshStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx refresh.Store) error) error {
	if s.db == nil {
		return errNestedTx
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &RefreshStore{q: tx})
	})
}

var _ refresh.Store = (*RefreshStore)(nil)
