package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/dbx"
)

const uniqueViolation = "23505"

// UserStore implements authcore.UserProvider over the users table.
type UserStore struct {
	q dbx.DBTX
}

// NewUserStore returns a user provider bound to db.
func NewUserStore(db dbx.DBTX) *UserStore {
	return &UserStore{q: db}
}

// GetUserByIdentifier matches identifier against username first, then email.
func (s *UserStore) GetUserByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	query := `
		SELECT id, username, email, password_hash
		FROM users
		WHERE username = $1 OR email = $1
		ORDER BY (username = $1) DESC
		LIMIT 1
	`
	return s.scanOne(ctx, query, identifier)
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	query := `
		SELECT id, username, email, password_hash
		FROM users
		WHERE id = $1
	`
	return s.scanOne(ctx, query, userID)
}

func (s *UserStore) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`
	hash := sql.NullString{String: input.PasswordHash, Valid: input.PasswordHash != ""}
	if _, err := s.q.ExecContext(ctx, query, id, input.Username, input.Email, hash); err != nil {
		if isUniqueViolation(err) {
			return authcore.UserRecord{}, authcore.ErrAccountExists
		}
		return authcore.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return authcore.UserRecord{
		UserID:       id,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
	}, nil
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := s.q.ExecContext(ctx, query, userID, newHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) scanOne(ctx context.Context, query string, arg string) (authcore.UserRecord, error) {
	var (
		rec  authcore.UserRecord
		hash sql.NullString
	)
	err := s.q.QueryRowContext(ctx, query, arg).Scan(&rec.UserID, &rec.Username, &rec.Email, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	rec.PasswordHash = hash.String
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ authcore.UserProvider = (*UserStore)(nil)
