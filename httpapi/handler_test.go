package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]authcore.UserRecord
}

func (m *memoryUsers) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			return u, nil
		}
	}
	return authcore.UserRecord{}, authcore.ErrUserNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, in.Username) || strings.EqualFold(u.Email, in.Email) {
			return authcore.UserRecord{}, authcore.ErrAccountExists
		}
	}
	u := authcore.UserRecord{UserID: uuid.NewString(), Username: in.Username, Email: in.Email, PasswordHash: in.PasswordHash}
	m.users[u.UserID] = u
	return u, nil
}

func (m *memoryUsers) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.PasswordHash = newHash
	m.users[userID] = u
	return nil
}

func newServer(t *testing.T) http.Handler {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRefreshStore(refresh.NewMemoryStore()).
		WithUserProvider(&memoryUsers{users: make(map[string]authcore.UserRecord)}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return New(engine, Config{SecureCookie: true}, nil).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var out TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

const registerBody = `{"username":"alice","email":"alice@example.com","password":"correct horse battery"}`

func TestRegisterLoginMeFlow(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decodeTokens(t, rec)
	assert.Equal(t, "Bearer", reg.TokenType)
	assert.InDelta(t, 900, reg.ExpiresIn, 2)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	cookie := refreshCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, reg.RefreshToken, cookie.Value)

	rec = do(t, h, http.MethodPost, "/login", `{"identifier":"alice@example.com","password":"correct horse battery"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeTokens(t, rec)

	rec = do(t, h, http.MethodGet, "/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+login.AccessToken)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Username)
	assert.NotEmpty(t, me.UserID)
}

func TestRegisterErrors(t *testing.T) {
	h := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/register", registerBody).Code)

	rec := do(t, h, http.MethodPost, "/register", registerBody)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/register", `{"username":"bob","email":"bob@example.com","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/register", `{"username":"bob","unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"malformed request body"}`, rec.Body.String())
}

func TestLoginFailureIsUniform(t *testing.T) {
	h := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/register", registerBody).Code)

	wrong := do(t, h, http.MethodPost, "/login", `{"identifier":"alice","password":"wrong password!"}`)
	unknown := do(t, h, http.MethodPost, "/login", `{"identifier":"nobody","password":"wrong password!"}`)

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	h := newServer(t)
	rec := do(t, h, http.MethodPost, "/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := refreshCookie(t, rec)

	rec = do(t, h, http.MethodPost, "/refresh", "", func(r *http.Request) { r.AddCookie(first) })
	require.Equal(t, http.StatusOK, rec.Code)
	second := refreshCookie(t, rec)
	assert.NotEqual(t, first.Value, second.Value)

	rec = do(t, h, http.MethodPost, "/refresh", "", func(r *http.Request) { r.AddCookie(first) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, -1, refreshCookie(t, rec).MaxAge)

	rec = do(t, h, http.MethodPost, "/refresh", `{"refresh_token":"`+second.Value+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRequiresToken(t *testing.T) {
	h := newServer(t)
	rec := do(t, h, http.MethodPost, "/refresh", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	h := newServer(t)
	rec := do(t, h, http.MethodPost, "/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	tokens := decodeTokens(t, rec)
	cookie := refreshCookie(t, rec)

	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokens.AccessToken) }

	rec = do(t, h, http.MethodPost, "/logout", "", bearer, func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, -1, refreshCookie(t, rec).MaxAge)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/me", "", bearer).Code)
	rec = do(t, h, http.MethodPost, "/refresh", "", func(r *http.Request) { r.AddCookie(cookie) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubEngine struct {
	err error
}

func (s stubEngine) Register(context.Context, authcore.RegisterRequest) (*authcore.LoginResult, error) {
	return nil, s.err
}

func (s stubEngine) Login(context.Context, authcore.Credentials) (*authcore.LoginResult, error) {
	return nil, s.err
}

func (s stubEngine) Refresh(context.Context, string) (*authcore.LoginResult, error) {
	return nil, s.err
}

func (s stubEngine) LogoutTokens(context.Context, string, string) error { return s.err }

func (s stubEngine) Authorize(context.Context, string) (*authcore.Claims, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		message    string
		retryAfter string
	}{
		{"rate limited", &authcore.RateLimitError{Bucket: "login", RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "too many requests", "2"},
		{"backend", &authcore.InfrastructureError{Op: "refresh store", Err: context.DeadlineExceeded, Timeout: true}, http.StatusServiceUnavailable, "service temporarily unavailable", ""},
		{"not ready", authcore.ErrEngineNotReady, http.StatusServiceUnavailable, "service temporarily unavailable", ""},
		{"reuse", &authcore.ReuseError{UserID: "u1", TokenID: "t1"}, http.StatusUnauthorized, "authentication failed", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(stubEngine{err: tc.err}, Config{}, nil).Routes()
			rec := do(t, h, http.MethodPost, "/login", `{"identifier":"a","password":"b"}`)

			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, `{"error":"`+tc.message+`"}`, rec.Body.String())
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
			assert.NotContains(t, rec.Body.String(), "refresh store")
		})
	}
}

func TestRefreshKeepsCookieOnBackendFailure(t *testing.T) {
	h := New(stubEngine{err: &authcore.InfrastructureError{Op: "refresh store"}}, Config{}, nil).Routes()
	rec := do(t, h, http.MethodPost, "/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "tok"})
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}
