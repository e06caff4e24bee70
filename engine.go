package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/blacklist"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"go.uber.org/zap"
)

// Engine is the authentication core. Build one with [New]; all methods are
// safe for concurrent use.
type Engine struct {
	config       Config
	clock        Clock
	logger       *zap.Logger
	hasher       *password.Argon2
	codec        *jwt.Manager
	limiter      *rate.Limiter
	blacklist    *blacklist.Blacklist
	store        refresh.Store
	userProvider UserProvider
	scope        ScopeFunc
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	dummyHash    string
	flows        flows.Deps
}

const (
	bucketLogin    = "login"
	bucketRegister = "register"
	bucketRefresh  = "refresh"
)

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the Engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int64) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) ready() bool {
	return e != nil && e.hasher != nil && e.codec != nil && e.store != nil
}

// Login verifies credentials and issues a persisted token pair.
//
// Unknown identifiers, wrong passwords and accounts without a local password
// all return [ErrInvalidCredentials] after the same amount of hashing work.
// A denied rate-limit check returns a [*RateLimitError] before any hashing.
func (e *Engine) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunLogin(ctx, creds.Identifier, creds.Password, e.flows.Login)
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		return nil, e.rateLimited(ctx, bucketLogin, res.RetryAfter)
	case flows.LoginFailureRateLimiterUnavailable:
		return nil, e.backendFailure(ctx, "login rate limit", res.Err)
	case flows.LoginFailureInvalidCredentials:
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	case flows.LoginFailureMalformedHash:
		e.metricInc(MetricLoginFailure)
		e.logger.Warn("stored password hash is malformed", zap.String("user_id", res.UserID), zap.Error(res.Err))
		e.emitAudit(ctx, auditEventMalformedPasswordHash, false, res.UserID, "", ErrMalformedHash, nil)
		return nil, ErrInvalidCredentials
	case flows.LoginFailureUserLookup:
		return nil, e.backendFailure(ctx, "user lookup", res.Err)
	case flows.LoginFailureIssue:
		return nil, e.issueFailure(res.Err)
	case flows.LoginFailurePersist:
		return nil, e.backendFailure(ctx, "refresh store save", res.Err)
	default:
		return nil, ErrEngineNotReady
	}

	if res.Rehashed {
		e.metricInc(MetricPasswordRehashed)
		e.emitAudit(ctx, auditEventPasswordHashUpgraded, true, res.UserID, "", nil, nil)
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.UserID, res.Pair.RefreshClaims.ID, nil, nil)
	return loginResult(res.Pair), nil
}

// Register creates an account and signs it in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRegister(ctx, flows.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}, e.flows.Register)

	var err error
	switch res.Failure {
	case flows.RegisterFailureNone:
		e.metricInc(MetricRegisterSuccess)
		e.emitAudit(ctx, auditEventRegisterSuccess, true, res.UserID, res.Pair.RefreshClaims.ID, nil, nil)
		return loginResult(res.Pair), nil
	case flows.RegisterFailureRateLimited:
		e.metricInc(MetricRegisterRateLimited)
		return nil, e.rateLimited(ctx, bucketRegister, res.RetryAfter)
	case flows.RegisterFailureRateLimiterUnavailable:
		return nil, e.backendFailure(ctx, "register rate limit", res.Err)
	case flows.RegisterFailureInvalidInput:
		err = fmt.Errorf("%w: %s", ErrInvalidInput, res.Err.Error())
	case flows.RegisterFailureWeakPassword:
		err = res.Err
	case flows.RegisterFailureDuplicate:
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", ErrAccountExists, nil)
		return nil, ErrAccountExists
	case flows.RegisterFailureHash:
		err = fmt.Errorf("authcore: password hashing failed: %w", res.Err)
		e.logger.Error("password hashing failed", zap.Error(res.Err))
	case flows.RegisterFailureCreate:
		return nil, e.backendFailure(ctx, "create user", res.Err)
	case flows.RegisterFailureIssue:
		return nil, e.issueFailure(res.Err)
	case flows.RegisterFailurePersist:
		return nil, e.backendFailure(ctx, "refresh store save", res.Err)
	default:
		return nil, ErrEngineNotReady
	}

	e.metricInc(MetricRegisterFailure)
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
	return nil, err
}

// Refresh exchanges a refresh token for a new pair and retires the old one.
//
// Of any number of concurrent calls presenting the same token at most one
// succeeds. Presenting a token that was already rotated returns a
// [*ReuseError]; with Security.RevokeAllOnReuse every refresh token of the
// owner is revoked as well.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRotate(ctx, refreshToken, e.flows.Rotate)

	var err error
	switch res.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, res.TokenID, nil, func() map[string]string {
			return map[string]string{"replaced_by": res.Pair.RefreshClaims.ID}
		})
		return loginResult(res.Pair), nil
	case flows.RotateFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		return nil, e.rateLimited(ctx, bucketRefresh, res.RetryAfter)
	case flows.RotateFailureRateLimiterUnavailable:
		return nil, e.backendFailure(ctx, "refresh rate limit", res.Err)
	case flows.RotateFailureReuse:
		return nil, e.handleReuse(ctx, res.UserID, res.TokenID)
	case flows.RotateFailureMalformed, flows.RotateFailureNotFound, flows.RotateFailureUserMissing:
		err = ErrTokenInvalid
	case flows.RotateFailureHashMismatch:
		e.logger.Warn("refresh token hash mismatch", zap.String("user_id", res.UserID), zap.String("token_id", res.TokenID))
		err = ErrTokenInvalid
	case flows.RotateFailureExpired:
		err = ErrTokenExpired
	case flows.RotateFailureRevoked:
		err = ErrTokenRevoked
	case flows.RotateFailureStore:
		return nil, e.backendFailure(ctx, "refresh store find", res.Err)
	case flows.RotateFailureUserLookup:
		return nil, e.backendFailure(ctx, "user lookup", res.Err)
	case flows.RotateFailureIssue:
		return nil, e.issueFailure(res.Err)
	case flows.RotateFailureCommit:
		return nil, e.backendFailure(ctx, "refresh rotation", res.Err)
	default:
		return nil, ErrEngineNotReady
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, res.TokenID, err, nil)
	return nil, err
}

func (e *Engine) handleReuse(ctx context.Context, userID, tokenID string) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("user_id", userID),
		zap.String("token_id", tokenID),
		zap.String("ip", clientIPFromContext(ctx)),
		zap.Bool("revoke_all", e.config.Security.RevokeAllOnReuse),
	)

	revoked := int64(0)
	if e.config.Security.RevokeAllOnReuse && userID != "" {
		res := flows.RunRevokeAll(ctx, userID, nil, e.flows.Revoke)
		if res.Failure != flows.RevokeFailureNone {
			// The replay is still rejected; the family stays live until the
			// next attempt or an explicit RevokeAll.
			_ = e.backendFailure(ctx, "reuse escalation", res.Err)
		}
		revoked = res.Revoked
		e.metricAdd(MetricTokensRevoked, revoked)
	}

	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, tokenID, ErrRefreshReuse, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(revoked, 10)}
	})
	return &ReuseError{UserID: userID, TokenID: tokenID}
}

// Logout revokes the refresh token with id tokenID and blacklists the given
// access tokens. Logging out an already revoked token succeeds.
func (e *Engine) Logout(ctx context.Context, tokenID string, access ...AccessRef) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := flows.RunLogout(ctx, tokenID, access, e.flows.Revoke)
	if err := e.revokeOutcome(ctx, res, "refresh store revoke"); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", tokenID, nil, func() map[string]string {
		return map[string]string{"blacklisted": strconv.Itoa(res.Blacklisted)}
	})
	return nil
}

// LogoutTokens logs out by raw tokens, as presented by an HTTP client. The
// access token is optional. An expired refresh token has nothing left to
// revoke, so only the access token is blacklisted.
func (e *Engine) LogoutTokens(ctx context.Context, refreshToken, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	var access []AccessRef
	if accessToken != "" {
		if ac, err := e.codec.ParseAccess(accessToken); err == nil {
			access = append(access, AccessRef{TokenID: ac.ID, ExpiresAt: ac.ExpiresAt.Time})
		}
	}

	rc, err := e.codec.ParseRefresh(refreshToken)
	switch {
	case err == nil:
		return e.Logout(ctx, rc.ID, access...)
	case errors.Is(err, jwt.ErrExpired):
		res := flows.RunBlacklist(ctx, access, e.flows.Revoke)
		if err := e.revokeOutcome(ctx, res, ""); err != nil {
			return err
		}
		e.metricInc(MetricLogout)
		return nil
	default:
		return ErrTokenInvalid
	}
}

// RevokeAll revokes every active refresh token of userID and blacklists the
// given access tokens. It returns the number of refresh tokens revoked.
func (e *Engine) RevokeAll(ctx context.Context, userID string, access ...AccessRef) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	res := flows.RunRevokeAll(ctx, userID, access, e.flows.Revoke)
	if err := e.revokeOutcome(ctx, res, "refresh store revoke all"); err != nil {
		return res.Revoked, err
	}
	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"revoked":     strconv.FormatInt(res.Revoked, 10),
			"blacklisted": strconv.Itoa(res.Blacklisted),
		}
	})
	return res.Revoked, nil
}

func (e *Engine) revokeOutcome(ctx context.Context, res flows.RevokeResult, storeOp string) error {
	e.metricAdd(MetricTokensRevoked, res.Revoked)
	e.metricAdd(MetricBlacklistAdded, int64(res.Blacklisted))

	switch res.Failure {
	case flows.RevokeFailureNone:
		return nil
	case flows.RevokeFailureNotFound:
		return ErrTokenInvalid
	case flows.RevokeFailureStore:
		return e.backendFailure(ctx, storeOp, res.Err)
	case flows.RevokeFailureBlacklist:
		return e.backendFailure(ctx, "blacklist add", res.Err)
	default:
		return ErrEngineNotReady
	}
}

// Authorize verifies an access token and checks it against the blacklist.
//
// When the blacklist cannot be reached Authorize fails closed with an
// [*InfrastructureError], unless Blacklist.FailOpen is set.
func (e *Engine) Authorize(ctx context.Context, accessToken string) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	res := flows.RunAuthorize(ctx, accessToken, e.flows.Authorize)

	if !start.IsZero() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}

	switch res.Failure {
	case flows.AuthorizeFailureNone:
	case flows.AuthorizeFailureInvalid:
		e.metricInc(MetricAuthorizeFailure)
		return nil, ErrTokenInvalid
	case flows.AuthorizeFailureExpired:
		e.metricInc(MetricAuthorizeFailure)
		return nil, ErrTokenExpired
	case flows.AuthorizeFailureRevoked:
		e.metricInc(MetricAuthorizeRevoked)
		e.emitAudit(ctx, auditEventAuthorizeRevoked, false, "", "", ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	case flows.AuthorizeFailureBlacklistUnavailable:
		e.metricInc(MetricAuthorizeFailure)
		return nil, e.backendFailure(ctx, "blacklist lookup", res.Err)
	default:
		return nil, ErrEngineNotReady
	}

	claims := claimsFrom(res.Claims)
	if res.Degraded {
		e.metricInc(MetricAuthorizeDegraded)
		e.logger.Warn("blacklist unavailable, token accepted on signature only",
			zap.String("token_id", claims.TokenID),
			zap.Error(res.Err),
		)
		e.emitAudit(ctx, auditEventAuthorizeDegraded, true, claims.UserID, claims.TokenID, infraError("blacklist lookup", res.Err), nil)
	}
	e.metricInc(MetricAuthorizeSuccess)
	return claims, nil
}

func (e *Engine) rateLimited(ctx context.Context, bucket string, retryAfter time.Duration) error {
	e.emitRateLimit(ctx, bucket, strconv.FormatInt(int64(retryAfter.Round(time.Second)/time.Second), 10))
	return &RateLimitError{Bucket: bucket, RetryAfter: retryAfter}
}

// backendFailure classifies, counts and logs a failing store or cache call.
func (e *Engine) backendFailure(ctx context.Context, op string, err error) error {
	ierr := infraError(op, err)
	timeout := errors.Is(ierr, ErrBackendTimeout)
	if timeout {
		e.metricInc(MetricBackendTimeout)
	} else {
		e.metricInc(MetricBackendFailure)
	}
	e.logger.Error("backend call failed",
		zap.String("op", op),
		zap.Bool("timeout", timeout),
		zap.String("ip", clientIPFromContext(ctx)),
		zap.Error(err),
	)
	return ierr
}

func (e *Engine) issueFailure(err error) error {
	e.logger.Error("token issuance failed", zap.Error(err))
	return fmt.Errorf("authcore: token issuance failed: %w", err)
}

func (e *Engine) buildFlowDeps() flows.Deps {
	now := e.clock.Now
	storeCtx := e.withTimeout(e.config.Store.OpTimeout, false)
	mutationCtx := e.withTimeout(e.config.Store.OpTimeout, true)
	cacheCtx := e.withTimeout(e.config.Cache.OpTimeout, false)

	getByID := func(ctx context.Context, userID string) (flows.UserRecord, error) {
		u, err := e.userProvider.GetUserByID(ctx, userID)
		return flowUser(u), err
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			Now:       now,
			RateCheck: e.rateCheck(bucketLogin, e.config.RateLimit.Login),
			GetUserByIdentifier: func(ctx context.Context, identifier string) (flows.UserRecord, error) {
				u, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
				return flowUser(u), err
			},
			UpdatePasswordHash:   e.userProvider.UpdatePasswordHash,
			UserNotFound:         ErrUserNotFound,
			VerifyPassword:       e.hasher.Verify,
			PasswordNeedsUpgrade: e.hasher.NeedsUpgrade,
			HashPassword:         e.hasher.Hash,
			UpgradeOnLogin:       e.config.Password.UpgradeOnLogin,
			DummyHash:            e.dummyHash,
			Issuer:               e.codec,
			Store:                e.store,
			StoreContext:         storeCtx,
			Warn: func(msg string, err error) {
				e.logger.Warn(msg, zap.Error(err))
			},
		},
		Register: flows.RegisterDeps{
			Now:                 now,
			RateCheck:           e.rateCheck(bucketRegister, e.config.RateLimit.Register),
			CheckPasswordPolicy: e.hasher.CheckPolicy,
			HashPassword:        e.hasher.Hash,
			CreateUser: func(ctx context.Context, username, email, hash string) (flows.UserRecord, error) {
				u, err := e.userProvider.CreateUser(ctx, CreateUserInput{
					Username:     username,
					Email:        email,
					PasswordHash: hash,
				})
				return flowUser(u), err
			},
			AccountExists: ErrAccountExists,
			Issuer:        e.codec,
			Store:         e.store,
			StoreContext:  storeCtx,
		},
		Rotate: flows.RotateDeps{
			Now:             now,
			RateCheck:       e.rateCheck(bucketRefresh, e.config.RateLimit.Refresh),
			ParseRefresh:    e.codec.ParseRefresh,
			Store:           e.store,
			Issuer:          e.codec,
			GetUserByID:     getByID,
			UserNotFound:    ErrUserNotFound,
			StoreContext:    storeCtx,
			MutationContext: mutationCtx,
		},
		Revoke: flows.RevokeDeps{
			Now:             now,
			Store:           e.store,
			Blacklist:       e.blacklist,
			MutationContext: mutationCtx,
			CacheContext:    cacheCtx,
		},
		Authorize: flows.AuthorizeDeps{
			ParseAccess:  e.codec.ParseAccess,
			Blacklist:    e.blacklist,
			FailOpen:     e.config.Blacklist.FailOpen,
			CacheContext: cacheCtx,
		},
	}
}

// withTimeout bounds one backend call. detach drops caller cancellation so
// a client that goes away cannot interrupt a mutation halfway.
func (e *Engine) withTimeout(d time.Duration, detach bool) flows.ContextFunc {
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		if detach {
			ctx = context.WithoutCancel(ctx)
		}
		if d <= 0 {
			return ctx, func() {}
		}
		return context.WithTimeout(ctx, d)
	}
}

func (e *Engine) rateCheck(bucket string, p RatePolicy) flows.RateCheck {
	policy := rate.Policy{Limit: p.Limit, Window: p.Window}
	if !policy.Enabled() {
		return nil
	}
	cacheCtx := e.withTimeout(e.config.Cache.OpTimeout, false)
	return func(ctx context.Context, identifier string) (rate.Decision, error) {
		cctx, cancel := cacheCtx(ctx)
		defer cancel()
		return e.limiter.Allow(cctx, bucket, e.scope(ctx, identifier), policy)
	}
}

func flowUser(u UserRecord) flows.UserRecord {
	return flows.UserRecord{
		UserID:       u.UserID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
	}
}

func loginResult(p *flows.Pair) *LoginResult {
	return &LoginResult{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: p.RefreshClaims.ExpiresAt.Time,
		UserID:           p.RefreshClaims.Subject,
		RefreshTokenID:   p.RefreshClaims.ID,
	}
}

func claimsFrom(ac *jwt.AccessClaims) *Claims {
	c := &Claims{
		UserID:   ac.Subject,
		Username: ac.Username,
		TokenID:  ac.ID,
	}
	if ac.IssuedAt != nil {
		c.IssuedAt = ac.IssuedAt.Time
	}
	if ac.ExpiresAt != nil {
		c.ExpiresAt = ac.ExpiresAt.Time
	}
	return c
}
