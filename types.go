package authcore

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
)

// UserRecord is the credential record returned by [UserProvider]. An empty
// PasswordHash means the account has no local password.
type UserRecord struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
}

// CreateUserInput is passed to [UserProvider.CreateUser] by Register. The
// password is already hashed.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
}

// UserProvider is the interface callers implement to connect authcore to
// their user database.
//
// GetUserByIdentifier and GetUserByID return [ErrUserNotFound] for unknown
// users. CreateUser returns [ErrAccountExists] when the username or email is
// taken. Any other error is treated as an infrastructure failure.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Credentials is the Login input. Identifier is a username or email.
type Credentials struct {
	Identifier string
	Password   string
}

// RegisterRequest is the Register input.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// LoginResult is returned by Login, Register and Refresh.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	RefreshTokenID   string
}

// TokenType is the OAuth token_type for every access token issued here.
const TokenType = "Bearer"

// Claims is the verified content of an access token.
type Claims struct {
	UserID    string
	Username  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessRef returns the reference Logout and RevokeAll need to blacklist
// this token.
func (c *Claims) AccessRef() AccessRef {
	return AccessRef{TokenID: c.TokenID, ExpiresAt: c.ExpiresAt}
}

// AccessRef identifies an access token by jti and natural expiry.
type AccessRef = flows.AccessRef

// AuditEvent is a security event delivered to an [AuditSink].
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's dispatcher.
type AuditSink = internalaudit.Sink
