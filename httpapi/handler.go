package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"go.uber.org/zap"
)

// Engine is the subset of *authcore.Engine the handlers call.
type Engine interface {
	Register(ctx context.Context, req authcore.RegisterRequest) (*authcore.LoginResult, error)
	Login(ctx context.Context, creds authcore.Credentials) (*authcore.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.LoginResult, error)
	LogoutTokens(ctx context.Context, refreshToken, accessToken string) error
	Authorize(ctx context.Context, accessToken string) (*authcore.Claims, error)
}

// Config controls cookie and request handling.
type Config struct {
	CookieName   string
	CookiePath   string
	SecureCookie bool
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy   bool
	MaxBodyBytes int64
}

// DefaultConfig returns settings for an HTTPS deployment.
func DefaultConfig() Config {
	return Config{
		CookieName:   "refresh_token",
		CookiePath:   "/",
		SecureCookie: true,
		MaxBodyBytes: 1 << 16,
	}
}

// Handler serves the authentication endpoints.
type Handler struct {
	engine Engine
	cfg    Config
	logger *zap.Logger
}

// New returns a Handler. Zero Config fields take DefaultConfig values,
// except SecureCookie and TrustProxy which are used as given.
func New(engine Engine, cfg Config, logger *zap.Logger) *Handler {
	def := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = def.CookiePath
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, cfg: cfg, logger: logger}
}

// Routes returns the endpoints wrapped in client IP extraction and request
// logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /logout", h.logout)
	mux.Handle("GET /me", middleware.Guard(h.engine)(http.HandlerFunc(h.me)))

	return RequestLogger(h.logger)(middleware.ClientIP(h.cfg.TrustProxy)(mux))
}

// TokenResponse is the body of every successful token issuance.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !h.decode(w, r, &body, false) {
		return
	}

	res, err := h.engine.Register(r.Context(), authcore.RegisterRequest(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTokens(w, http.StatusCreated, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !h.decode(w, r, &body, false) {
		return
	}

	res, err := h.engine.Login(r.Context(), authcore.Credentials(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTokens(w, http.StatusOK, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}

	res, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		if !errors.Is(err, authcore.ErrInfrastructure) && !errors.Is(err, authcore.ErrRateLimited) {
			h.clearCookie(w)
		}
		h.writeError(w, r, err)
		return
	}
	h.writeTokens(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	access, _ := middleware.BearerToken(r.Header.Get("Authorization"))

	if err := h.engine.LogoutTokens(r.Context(), token, access); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:    claims.UserID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt,
	})
}

// refreshToken prefers the cookie and falls back to a JSON body.
func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if c, err := r.Cookie(h.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}

	var body refreshRequest
	if !h.decode(w, r, &body, true) {
		return "", false
	}
	if body.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "refresh token required"})
		return "", false
	}
	return body.RefreshToken, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func (h *Handler) writeTokens(w http.ResponseWriter, status int, res *authcore.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    res.RefreshToken,
		Path:     h.cfg.CookiePath,
		Expires:  res.RefreshExpiresAt,
		MaxAge:   int(time.Until(res.RefreshExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Cache-Control", "no-store")

	expiresIn := int64(math.Ceil(time.Until(res.AccessExpiresAt).Seconds()))
	if expiresIn < 0 {
		expiresIn = 0
	}
	writeJSON(w, status, TokenResponse{
		AccessToken:  res.AccessToken,
		TokenType:    authcore.TokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: res.RefreshToken,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     h.cfg.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("auth request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}

	var rl *authcore.RateLimitError
	if errors.As(err, &rl) {
		secs := int64(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, status, errorResponse{Error: authcore.PublicMessage(err)})
}

// StatusCode maps an Engine error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrInfrastructure), errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, authcore.ErrInvalidInput), errors.Is(err, authcore.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrAccountExists):
		return http.StatusConflict
	default:
		return http.StatusUnauthorized
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
