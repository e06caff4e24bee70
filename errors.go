package authcore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MrEthical07/authcore/password"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown identifier, a
	// wrong password or an account without a local password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword is returned by Register when the password violates the length policy.
	ErrWeakPassword = password.ErrWeakPassword
	// ErrMalformedHash marks a stored password hash that cannot be parsed.
	ErrMalformedHash = password.ErrMalformedHash
	// ErrInvalidInput is returned for structurally invalid registration input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccountExists is returned when the username or email is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by UserProvider implementations for unknown users.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenInvalid covers bad signatures, malformed tokens, unknown refresh
	// records and refresh hash mismatches.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for explicitly revoked refresh tokens and
	// blacklisted access tokens. It also matches ErrTokenInvalid.
	ErrTokenRevoked = fmt.Errorf("%w: revoked", ErrTokenInvalid)
	// ErrRefreshReuse is returned when an already rotated refresh token is presented again.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")

	// ErrInfrastructure is matched by every *InfrastructureError.
	ErrInfrastructure = errors.New("backend unavailable")
	// ErrBackendTimeout is matched by an *InfrastructureError caused by a deadline.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ReuseError reports a replayed refresh token. The presented token id and
// its owner are kept for incident response.
type ReuseError struct {
	UserID  string
	TokenID string
}

func (e *ReuseError) Error() string { return ErrRefreshReuse.Error() }

// Is matches ErrRefreshReuse.
func (e *ReuseError) Is(target error) bool { return target == ErrRefreshReuse }

// RateLimitError is returned when a request exceeds its window.
type RateLimitError struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Bucket, e.RetryAfter.Round(time.Second))
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// InfrastructureError reports a failing store or cache call. Error() never
// carries the backend's message; Unwrap exposes it for logging.
type InfrastructureError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *InfrastructureError) Error() string {
	if e.Timeout {
		return e.Op + ": " + ErrBackendTimeout.Error()
	}
	return e.Op + ": " + ErrInfrastructure.Error()
}

// Is matches ErrInfrastructure always and ErrBackendTimeout when Timeout is set.
func (e *InfrastructureError) Is(target error) bool {
	switch target {
	case ErrInfrastructure:
		return true
	case ErrBackendTimeout:
		return e.Timeout
	}
	return false
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func infraError(op string, err error) error {
	var existing *InfrastructureError
	if errors.As(err, &existing) {
		return existing
	}
	return &InfrastructureError{Op: op, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// PublicMessage maps err to text that is safe to show a client. Credential,
// token and reuse failures share one message so callers cannot tell them apart.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "too many requests"
	case errors.Is(err, ErrInfrastructure), errors.Is(err, ErrEngineNotReady):
		return "service temporarily unavailable"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrWeakPassword):
		return err.Error()
	case errors.Is(err, ErrAccountExists):
		return ErrAccountExists.Error()
	default:
		return "authentication failed"
	}
}
