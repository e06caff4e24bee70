package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureRateLimiterUnavailable
	LoginFailureInvalidCredentials
	LoginFailureMalformedHash
	LoginFailureUserLookup
	LoginFailureIssue
	LoginFailurePersist
)

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure    LoginFailureKind
	Err        error
	RetryAfter time.Duration
	UserID     string
	Pair       *Pair
	// Rehashed is set when the stored hash was upgraded to current parameters.
	Rehashed bool
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Now       func() time.Time
	RateCheck RateCheck

	GetUserByIdentifier func(ctx context.Context, identifier string) (UserRecord, error)
	UpdatePasswordHash  func(ctx context.Context, userID, hash string) error
	UserNotFound        error

	VerifyPassword       func(password, encoded string) (bool, error)
	PasswordNeedsUpgrade func(encoded string) (bool, error)
	HashPassword         func(password string) (string, error)
	UpgradeOnLogin       bool
	// DummyHash is verified against when no usable hash exists, so unknown
	// identifiers cost the same as wrong passwords.
	DummyHash string

	Issuer       TokenIssuer
	Store        refresh.Store
	StoreContext ContextFunc
	Warn         func(msg string, err error)
}

// RunLogin authenticates identifier/password and issues a persisted token pair.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	if deps.RateCheck != nil {
		decision, err := deps.RateCheck(ctx, identifier)
		if err != nil {
			return LoginResult{Failure: LoginFailureRateLimiterUnavailable, Err: err}
		}
		if !decision.Allowed {
			return LoginResult{Failure: LoginFailureRateLimited, RetryAfter: decision.RetryAfter}
		}
	}

	lookupCtx, cancel := bounded(deps.StoreContext, ctx)
	user, err := deps.GetUserByIdentifier(lookupCtx, identifier)
	cancel()
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			burnVerify(password, deps)
			return LoginResult{Failure: LoginFailureInvalidCredentials}
		}
		return LoginResult{Failure: LoginFailureUserLookup, Err: err}
	}
	if user.PasswordHash == "" {
		burnVerify(password, deps)
		return LoginResult{Failure: LoginFailureInvalidCredentials, UserID: user.UserID}
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return LoginResult{Failure: LoginFailureMalformedHash, Err: err, UserID: user.UserID}
	}
	if !ok {
		return LoginResult{Failure: LoginFailureInvalidCredentials, UserID: user.UserID}
	}

	rehashed := false
	if deps.UpgradeOnLogin && deps.PasswordNeedsUpgrade != nil {
		rehashed = upgradeHash(ctx, user.UserID, password, user.PasswordHash, deps)
	}

	res := issueAndPersist(ctx, user, deps.Issuer, deps.Store, deps.StoreContext, deps.Now)
	res.Rehashed = rehashed
	return res
}

func burnVerify(password string, deps LoginDeps) {
	if deps.DummyHash != "" {
		_, _ = deps.VerifyPassword(password, deps.DummyHash)
	}
}

// upgradeHash failures never fail the login; the next login retries.
func upgradeHash(ctx context.Context, userID, password, encoded string, deps LoginDeps) bool {
	needs, err := deps.PasswordNeedsUpgrade(encoded)
	if err != nil || !needs {
		return false
	}
	newHash, err := deps.HashPassword(password)
	if err != nil {
		warn(deps.Warn, "password rehash failed", err)
		return false
	}
	updateCtx, cancel := bounded(deps.StoreContext, ctx)
	defer cancel()
	if err := deps.UpdatePasswordHash(updateCtx, userID, newHash); err != nil {
		warn(deps.Warn, "password hash upgrade not persisted", err)
		return false
	}
	return true
}

func issueAndPersist(
	ctx context.Context,
	user UserRecord,
	issuer TokenIssuer,
	store refresh.Store,
	storeCtx ContextFunc,
	now func() time.Time,
) LoginResult {
	pair, err := mintPair(issuer, user.UserID, user.Username)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, UserID: user.UserID}
	}

	saveCtx, cancel := bounded(storeCtx, ctx)
	defer cancel()
	if err := store.Save(saveCtx, pair.record(now())); err != nil {
		return LoginResult{Failure: LoginFailurePersist, Err: err, UserID: user.UserID}
	}

	return LoginResult{UserID: user.UserID, Pair: pair}
}

func warn(fn func(string, error), msg string, err error) {
	if fn != nil {
		fn(msg, err)
	}
}
