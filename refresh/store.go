package refresh

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Find when no record carries the given id.
	ErrNotFound = errors.New("refresh token record not found")
	// ErrDuplicate is returned by Save when the id is already present.
	ErrDuplicate = errors.New("refresh token record already exists")
)

// Record is the persisted state of one issued refresh token.
type Record struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string
	CreatedAt  time.Time
}

// Revoked reports whether the record has been revoked for any reason.
func (r *Record) Revoked() bool { return r.RevokedAt != nil }

// Rotated reports whether the record was consumed by a successful rotation.
func (r *Record) Rotated() bool { return r.RevokedAt != nil && r.ReplacedBy != "" }

// Expired reports whether the record's lifetime has ended at now.
func (r *Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Active reports whether the record is neither revoked nor expired at now.
func (r *Record) Active(now time.Time) bool { return !r.Revoked() && !r.Expired(now) }

// MatchesToken compares the stored hash with the hash of token in constant time.
func (r *Record) MatchesToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(r.TokenHash), []byte(HashToken(token))) == 1
}

func (r Record) clone() Record {
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		r.RevokedAt = &at
	}
	return r
}

// HashToken returns the lowercase hex SHA-256 digest of a token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Store persists refresh token records.
//
// Revoke and Supersede return false, without error, when the record was already
// revoked. Both return ErrNotFound for unknown ids. Supersede additionally
// records which token replaced the old one.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Find(ctx context.Context, id string) (*Record, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	Supersede(ctx context.Context, id, replacedBy string, at time.Time) (bool, error)
	// RevokeAllForUser revokes the user's records that are active at at and
	// returns how many it revoked. Expired records are left untouched.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// WithinTx runs fn against a transactional view of the store. Changes
	// become visible only if fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
