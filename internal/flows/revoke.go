package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

// Blacklister records access tokens invalidated before their expiry.
type Blacklister interface {
	Add(ctx context.Context, tokenID string, ttl time.Duration) error
}

// RevokeFailureKind classifies revocation failures.
type RevokeFailureKind int

const (
	RevokeFailureNone RevokeFailureKind = iota
	RevokeFailureNotFound
	RevokeFailureStore
	RevokeFailureBlacklist
)

// RevokeResult reports what a revocation changed.
type RevokeResult struct {
	Failure RevokeFailureKind
	Err     error
	// Revoked counts records moved from active to revoked by this call.
	Revoked int64
	// Blacklisted counts access tokens written to the blacklist.
	Blacklisted int
}

// RevokeDeps captures logout and revoke-all dependencies.
type RevokeDeps struct {
	Now             func() time.Time
	Store           refresh.Store
	Blacklist       Blacklister
	MutationContext ContextFunc
	CacheContext    ContextFunc
}

// RunLogout revokes one refresh record and blacklists the given access
// tokens. Revoking an already revoked record is not an error.
func RunLogout(ctx context.Context, tokenID string, access []AccessRef, deps RevokeDeps) RevokeResult {
	mctx, cancel := bounded(deps.MutationContext, ctx)
	changed, err := deps.Store.Revoke(mctx, tokenID, deps.Now())
	cancel()
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return RevokeResult{Failure: RevokeFailureNotFound, Err: err}
		}
		return RevokeResult{Failure: RevokeFailureStore, Err: err}
	}

	res := RevokeResult{}
	if changed {
		res.Revoked = 1
	}
	return blacklistAll(ctx, access, deps, res)
}

// RunRevokeAll revokes every active refresh record of userID and blacklists
// the given access tokens.
func RunRevokeAll(ctx context.Context, userID string, access []AccessRef, deps RevokeDeps) RevokeResult {
	mctx, cancel := bounded(deps.MutationContext, ctx)
	n, err := deps.Store.RevokeAllForUser(mctx, userID, deps.Now())
	cancel()
	if err != nil {
		return RevokeResult{Failure: RevokeFailureStore, Err: err}
	}
	return blacklistAll(ctx, access, deps, RevokeResult{Revoked: n})
}

// RunBlacklist blacklists access tokens without touching the refresh store.
// It serves logouts whose refresh token already expired.
func RunBlacklist(ctx context.Context, access []AccessRef, deps RevokeDeps) RevokeResult {
	return blacklistAll(ctx, access, deps, RevokeResult{})
}

// blacklistAll keeps going after a failure so one bad write does not leave
// the remaining tokens usable; the first error is reported.
func blacklistAll(ctx context.Context, access []AccessRef, deps RevokeDeps, res RevokeResult) RevokeResult {
	if len(access) == 0 || deps.Blacklist == nil {
		return res
	}
	now := deps.Now()
	var firstErr error
	for _, ref := range access {
		if ref.TokenID == "" {
			continue
		}
		ttl := ref.ExpiresAt.Sub(now)
		if ttl <= 0 {
			continue
		}
		cctx, cancel := bounded(deps.CacheContext, context.WithoutCancel(ctx))
		err := deps.Blacklist.Add(cctx, ref.TokenID, ttl)
		cancel()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Blacklisted++
	}
	if firstErr != nil {
		res.Failure = RevokeFailureBlacklist
		res.Err = firstErr
	}
	return res
}
