package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

const (
	minUsernameBytes = 3
	maxUsernameBytes = 50
)

// RegisterRequest is the flow-local registration input.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// RegisterFailureKind classifies registration failures.
type RegisterFailureKind int

const (
	RegisterFailureNone RegisterFailureKind = iota
	RegisterFailureRateLimited
	RegisterFailureRateLimiterUnavailable
	RegisterFailureInvalidInput
	RegisterFailureWeakPassword
	RegisterFailureHash
	RegisterFailureDuplicate
	RegisterFailureCreate
	RegisterFailureIssue
	RegisterFailurePersist
)

// RegisterResult carries the created user's pair or failure metadata.
type RegisterResult struct {
	Failure    RegisterFailureKind
	Err        error
	RetryAfter time.Duration
	UserID     string
	Pair       *Pair
}

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	Now       func() time.Time
	RateCheck RateCheck

	CheckPasswordPolicy func(password string) error
	HashPassword        func(password string) (string, error)

	CreateUser    func(ctx context.Context, username, email, passwordHash string) (UserRecord, error)
	AccountExists error

	Issuer       TokenIssuer
	Store        refresh.Store
	StoreContext ContextFunc
}

// ValidateRegistration checks the username and email shape. It returns a
// human-readable reason, or "" when the request is acceptable.
func ValidateRegistration(req RegisterRequest) string {
	username := strings.TrimSpace(req.Username)
	switch {
	case username == "":
		return "username cannot be empty"
	case len(username) < minUsernameBytes || len(username) > maxUsernameBytes:
		return "username must be between 3 and 50 characters"
	}
	email := strings.TrimSpace(req.Email)
	switch {
	case email == "":
		return "email cannot be empty"
	case !strings.Contains(email, "@"):
		return "invalid email format"
	}
	if req.Password == "" {
		return "password cannot be empty"
	}
	return ""
}

// RunRegister creates a user with a hashed password and signs them in.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) RegisterResult {
	if deps.RateCheck != nil {
		decision, err := deps.RateCheck(ctx, req.Username)
		if err != nil {
			return RegisterResult{Failure: RegisterFailureRateLimiterUnavailable, Err: err}
		}
		if !decision.Allowed {
			return RegisterResult{Failure: RegisterFailureRateLimited, RetryAfter: decision.RetryAfter}
		}
	}

	if reason := ValidateRegistration(req); reason != "" {
		return RegisterResult{Failure: RegisterFailureInvalidInput, Err: errors.New(reason)}
	}
	if err := deps.CheckPasswordPolicy(req.Password); err != nil {
		return RegisterResult{Failure: RegisterFailureWeakPassword, Err: err}
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return RegisterResult{Failure: RegisterFailureHash, Err: err}
	}

	createCtx, cancel := bounded(deps.StoreContext, ctx)
	user, err := deps.CreateUser(createCtx, strings.TrimSpace(req.Username), strings.TrimSpace(req.Email), hash)
	cancel()
	if err != nil {
		if deps.AccountExists != nil && errors.Is(err, deps.AccountExists) {
			return RegisterResult{Failure: RegisterFailureDuplicate, Err: err}
		}
		return RegisterResult{Failure: RegisterFailureCreate, Err: err}
	}

	issued := issueAndPersist(ctx, user, deps.Issuer, deps.Store, deps.StoreContext, deps.Now)
	res := RegisterResult{Err: issued.Err, UserID: user.UserID, Pair: issued.Pair}
	switch issued.Failure {
	case LoginFailureIssue:
		res.Failure = RegisterFailureIssue
	case LoginFailurePersist:
		res.Failure = RegisterFailurePersist
	}
	return res
}
