package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/refresh"
)

// Deps groups flow dependency sets. The Engine builds this once and
// delegates each request method to the matching flow.
type Deps struct {
	Login     LoginDeps
	Register  RegisterDeps
	Rotate    RotateDeps
	Revoke    RevokeDeps
	Authorize AuthorizeDeps
}

// UserRecord is the flow-local view of a credential record.
type UserRecord struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
}

// ContextFunc derives a bounded context for one backend call.
type ContextFunc func(context.Context) (context.Context, context.CancelFunc)

// RateCheck counts one request against a limiter bucket. A nil RateCheck
// means the operation is not limited.
type RateCheck func(ctx context.Context, identifier string) (rate.Decision, error)

// TokenIssuer mints signed token pairs.
type TokenIssuer interface {
	CreateAccess(userID, username string) (string, *jwt.AccessClaims, error)
	CreateRefresh(userID string) (string, *jwt.RefreshClaims, error)
}

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken   string
	RefreshToken  string
	AccessClaims  *jwt.AccessClaims
	RefreshClaims *jwt.RefreshClaims
}

// AccessRef identifies an access token to blacklist.
type AccessRef struct {
	TokenID   string
	ExpiresAt time.Time
}

func mintPair(issuer TokenIssuer, userID, username string) (*Pair, error) {
	access, accessClaims, err := issuer.CreateAccess(userID, username)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshClaims, err := issuer.CreateRefresh(userID)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:   access,
		RefreshToken:  refreshToken,
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

func (p *Pair) record(now time.Time) refresh.Record {
	return refresh.Record{
		ID:        p.RefreshClaims.ID,
		UserID:    p.RefreshClaims.Subject,
		TokenHash: refresh.HashToken(p.RefreshToken),
		ExpiresAt: p.RefreshClaims.ExpiresAt.Time,
		CreatedAt: now,
	}
}

func bounded(fn ContextFunc, ctx context.Context) (context.Context, context.CancelFunc) {
	if fn == nil {
		return ctx, func() {}
	}
	return fn(ctx)
}
