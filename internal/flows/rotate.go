package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/refresh"
)

// RotateFailureKind classifies refresh rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureRateLimited
	RotateFailureRateLimiterUnavailable
	RotateFailureMalformed
	RotateFailureExpired
	RotateFailureNotFound
	RotateFailureRevoked
	RotateFailureReuse
	RotateFailureHashMismatch
	RotateFailureStore
	RotateFailureUserMissing
	RotateFailureUserLookup
	RotateFailureIssue
	RotateFailureCommit
)

// RotateResult carries either the new pair or failure metadata. TokenID and
// UserID identify the presented token whenever its claims could be read.
type RotateResult struct {
	Failure    RotateFailureKind
	Err        error
	RetryAfter time.Duration
	TokenID    string
	UserID     string
	Pair       *Pair
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
	Now          func() time.Time
	RateCheck    RateCheck
	ParseRefresh func(token string) (*jwt.RefreshClaims, error)

	Store       refresh.Store
	Issuer      TokenIssuer
	GetUserByID func(ctx context.Context, userID string) (UserRecord, error)
	UserNotFound error

	// StoreContext bounds reads. MutationContext bounds the rotation
	// transaction and must not inherit caller cancellation.
	StoreContext    ContextFunc
	MutationContext ContextFunc
}

// errLostRace marks a Supersede that found the record already revoked inside
// the rotation transaction.
var errLostRace = errors.New("refresh token already consumed")

// RunRotate exchanges a refresh token for a new pair. The old record is
// superseded and the new one inserted in a single store transaction; among
// concurrent callers presenting the same token at most one succeeds.
func RunRotate(ctx context.Context, token string, deps RotateDeps) RotateResult {
	claims, err := deps.ParseRefresh(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return RotateResult{Failure: RotateFailureExpired, Err: err}
		}
		return RotateResult{Failure: RotateFailureMalformed, Err: err}
	}
	res := RotateResult{TokenID: claims.ID, UserID: claims.Subject}

	if deps.RateCheck != nil {
		decision, err := deps.RateCheck(ctx, claims.Subject)
		if err != nil {
			return res.fail(RotateFailureRateLimiterUnavailable, err)
		}
		if !decision.Allowed {
			res.RetryAfter = decision.RetryAfter
			return res.fail(RotateFailureRateLimited, nil)
		}
	}

	findCtx, cancel := bounded(deps.StoreContext, ctx)
	rec, err := deps.Store.Find(findCtx, claims.ID)
	cancel()
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return res.fail(RotateFailureNotFound, err)
		}
		return res.fail(RotateFailureStore, err)
	}

	now := deps.Now()
	switch {
	case rec.Rotated():
		return res.fail(RotateFailureReuse, nil)
	case rec.Revoked():
		return res.fail(RotateFailureRevoked, nil)
	case rec.Expired(now):
		return res.fail(RotateFailureExpired, nil)
	case !rec.MatchesToken(token), rec.UserID != claims.Subject:
		return res.fail(RotateFailureHashMismatch, nil)
	}

	userCtx, cancel := bounded(deps.StoreContext, ctx)
	user, err := deps.GetUserByID(userCtx, rec.UserID)
	cancel()
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return res.fail(RotateFailureUserMissing, err)
		}
		return res.fail(RotateFailureUserLookup, err)
	}

	pair, err := mintPair(deps.Issuer, rec.UserID, user.Username)
	if err != nil {
		return res.fail(RotateFailureIssue, err)
	}

	txCtx, cancel := bounded(deps.MutationContext, ctx)
	defer cancel()
	err = deps.Store.WithinTx(txCtx, func(ctx context.Context, tx refresh.Store) error {
		changed, err := tx.Supersede(ctx, rec.ID, pair.RefreshClaims.ID, now)
		if err != nil {
			return err
		}
		if !changed {
			return errLostRace
		}
		return tx.Save(ctx, pair.record(now))
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return res.fail(RotateFailureReuse, nil)
		}
		return res.fail(RotateFailureCommit, err)
	}

	res.Pair = pair
	return res
}

func (r RotateResult) fail(kind RotateFailureKind, err error) RotateResult {
	r.Failure = kind
	r.Err = err
	return r
}
