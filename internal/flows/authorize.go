package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/jwt"
)

// BlacklistChecker reports whether an access token id was revoked early.
type BlacklistChecker interface {
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// AuthorizeFailureKind classifies access-token rejections.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureInvalid
	AuthorizeFailureExpired
	AuthorizeFailureRevoked
	AuthorizeFailureBlacklistUnavailable
)

// AuthorizeResult carries verified claims or the rejection reason.
type AuthorizeResult struct {
	Failure AuthorizeFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	// Degraded is set when the blacklist was unreachable and FailOpen let
	// the token through on signature and expiry alone.
	Degraded bool
}

// AuthorizeDeps captures access-token verification dependencies.
type AuthorizeDeps struct {
	ParseAccess  func(token string) (*jwt.AccessClaims, error)
	Blacklist    BlacklistChecker
	FailOpen     bool
	CacheContext ContextFunc
}

// RunAuthorize verifies signature, expiry and claim shape, then consults the
// blacklist by jti.
func RunAuthorize(ctx context.Context, token string, deps AuthorizeDeps) AuthorizeResult {
	claims, err := deps.ParseAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return AuthorizeResult{Failure: AuthorizeFailureExpired, Err: err}
		}
		return AuthorizeResult{Failure: AuthorizeFailureInvalid, Err: err}
	}
	if deps.Blacklist == nil {
		return AuthorizeResult{Claims: claims}
	}

	cctx, cancel := bounded(deps.CacheContext, ctx)
	revoked, err := deps.Blacklist.Contains(cctx, claims.ID)
	cancel()
	if err != nil {
		if deps.FailOpen {
			return AuthorizeResult{Claims: claims, Err: err, Degraded: true}
		}
		return AuthorizeResult{Failure: AuthorizeFailureBlacklistUnavailable, Err: err}
	}
	if revoked {
		return AuthorizeResult{Failure: AuthorizeFailureRevoked}
	}
	return AuthorizeResult{Claims: claims}
}
