package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/password"
)

// Config is the complete Engine configuration. Start from [DefaultConfig]
// and override fields; Build validates the result.
type Config struct {
	JWT       JWTConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Blacklist BlacklistConfig
	Store     StoreConfig
	Cache     CacheConfig
	Security  SecurityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token codec. One signing key is used for both
// token kinds.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and the length policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy allows Limit requests per Window. A zero Limit disables the bucket.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds one policy per throttled operation.
type RateLimitConfig struct {
	Prefix   string
	Login    RatePolicy
	Register RatePolicy
	Refresh  RatePolicy
}

// BlacklistConfig configures the access-token blacklist.
type BlacklistConfig struct {
	Prefix string
	// FailOpen accepts signature-valid tokens when the blacklist cannot be
	// reached. Off by default: Authorize fails closed.
	FailOpen bool
}

// StoreConfig bounds refresh-store and user-provider calls.
type StoreConfig struct {
	OpTimeout time.Duration
}

// CacheConfig bounds Redis calls made by the limiter and blacklist.
type CacheConfig struct {
	OpTimeout time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds policy switches.
type SecurityConfig struct {
	ProductionMode bool
	// RevokeAllOnReuse revokes every refresh token of the owner when a
	// rotated token is replayed.
	RevokeAllOnReuse bool
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MinLength:      password.DefaultMinLength,
			MaxLength:      password.DefaultMaxLength,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Prefix:   "rl",
			Login:    RatePolicy{Limit: 5, Window: 15 * time.Minute},
			Register: RatePolicy{Limit: 5, Window: 15 * time.Minute},
		},
		Blacklist: BlacklistConfig{
			Prefix: "blacklist",
		},
		Store: StoreConfig{
			OpTimeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			OpTimeout: 250 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// DefaultConfig returns the baseline configuration with a freshly generated
// Ed25519 key pair. Deployments running more than one instance must share
// keys and therefore set JWT.PrivateKey and JWT.PublicKey themselves.
func DefaultConfig() Config {
	cfg := defaultConfig()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic("authcore: ed25519 key generation failed: " + err.Error())
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	return cfg
}

// HighSecurityConfig tightens DefaultConfig: production checks, required iat,
// throttled refresh and family-wide revocation on reuse.
func HighSecurityConfig() Config {
	cfg := DefaultConfig()
	cfg.Security.ProductionMode = true
	cfg.Security.RevokeAllOnReuse = true
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.JWT.RequireIAT = true
	cfg.RateLimit.Refresh = RatePolicy{Limit: 20, Window: time.Minute}
	cfg.Audit.Enabled = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. Build calls it.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Rate limits
	for name, p := range map[string]RatePolicy{
		"Login":    c.RateLimit.Login,
		"Register": c.RateLimit.Register,
		"Refresh":  c.RateLimit.Refresh,
	} {
		if p.Limit < 0 {
			return errors.New("RateLimit " + name + " Limit must be >= 0")
		}
		if p.Limit > 0 && p.Window <= 0 {
			return errors.New("RateLimit " + name + " Window must be > 0 when Limit is set")
		}
	}

	// Timeouts
	if c.Store.OpTimeout < 0 {
		return errors.New("Store OpTimeout must be >= 0")
	}
	if c.Cache.OpTimeout < 0 {
		return errors.New("Cache OpTimeout must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.RateLimit.Login.Limit == 0 {
			return errors.New("ProductionMode requires a Login rate limit")
		}
		if c.Blacklist.FailOpen {
			return errors.New("ProductionMode forbids Blacklist FailOpen")
		}
	}

	return nil
}
