package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration. It is read from YAML and overridden
// by AUTHCORE_* environment variables.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Audit     AuditConfig     `yaml:"audit"`
	Refresh   RefreshConfig   `yaml:"refresh_store"`
}

// RefreshConfig selects where refresh token records live.
type RefreshConfig struct {
	// Backend is "postgres" or "redis".
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

// HTTPConfig contains listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	SecureCookie    bool          `yaml:"secure_cookie"`
}

// DatabaseConfig contains Postgres settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
	OpTimeout       time.Duration `yaml:"op_timeout"`
}

// RedisConfig contains Redis settings.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// JWTConfig contains token settings. Key is base64: a 32-byte seed for
// ed25519 or the shared secret for hs256.
type JWTConfig struct {
	SigningMethod string        `yaml:"signing_method"`
	Key           string        `yaml:"key"`
	KeyID         string        `yaml:"key_id"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

// SecurityConfig contains policy switches.
type SecurityConfig struct {
	ProductionMode    bool `yaml:"production_mode"`
	RevokeAllOnReuse  bool `yaml:"revoke_all_on_reuse"`
	BlacklistFailOpen bool `yaml:"blacklist_fail_open"`
}

// RatePolicy is one fixed-window budget.
type RatePolicy struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// RateLimitConfig contains per-operation budgets.
type RateLimitConfig struct {
	Login    RatePolicy `yaml:"login"`
	Register RatePolicy `yaml:"register"`
	Refresh  RatePolicy `yaml:"refresh"`
}

// LoggingConfig contains zap settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig contains exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuditConfig toggles audit logging through zap.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig reads path, applies environment overrides and validates. An
// empty path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	engine := authcore.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			SecureCookie:    true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
			OpTimeout:       engine.Store.OpTimeout,
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			OpTimeout: engine.Cache.OpTimeout,
		},
		JWT: JWTConfig{
			SigningMethod: engine.JWT.SigningMethod,
			AccessTTL:     engine.JWT.AccessTTL,
			RefreshTTL:    engine.JWT.RefreshTTL,
		},
		RateLimit: RateLimitConfig{
			Login:    RatePolicy(engine.RateLimit.Login),
			Register: RatePolicy(engine.RateLimit.Register),
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Refresh: RefreshConfig{Backend: "postgres", Prefix: "{refresh}"},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("AUTHCORE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("AUTHCORE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AUTHCORE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AUTHCORE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AUTHCORE_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTHCORE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("AUTHCORE_JWT_KEY"); v != "" {
		cfg.JWT.Key = v
	}
	if v := os.Getenv("AUTHCORE_REFRESH_BACKEND"); v != "" {
		cfg.Refresh.Backend = v
	}
	if v := os.Getenv("AUTHCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTHCORE_PRODUCTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTHCORE_PRODUCTION: %w", err)
		}
		cfg.Security.ProductionMode = b
	}
	return nil
}

// Validate checks settings the engine does not validate itself.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Security.ProductionMode && c.JWT.Key == "" {
		return fmt.Errorf("jwt.key is required in production mode")
	}
	switch c.Refresh.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("refresh_store.backend %q is not postgres or redis", c.Refresh.Backend)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// EngineConfig converts the file settings into an authcore.Config. Without
// jwt.key a fresh ed25519 pair is generated, which only suits a single
// development instance.
func (c *Config) EngineConfig() (authcore.Config, error) {
	out := authcore.DefaultConfig()
	out.JWT.SigningMethod = strings.ToLower(c.JWT.SigningMethod)
	out.JWT.AccessTTL = c.JWT.AccessTTL
	out.JWT.RefreshTTL = c.JWT.RefreshTTL
	out.JWT.Issuer = c.JWT.Issuer
	out.JWT.Audience = c.JWT.Audience
	out.JWT.KeyID = c.JWT.KeyID

	if c.JWT.Key != "" {
		raw, err := base64.StdEncoding.DecodeString(c.JWT.Key)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("jwt.key: %w", err)
		}
		switch out.JWT.SigningMethod {
		case "ed25519":
			if len(raw) != ed25519.SeedSize {
				return authcore.Config{}, fmt.Errorf("jwt.key must decode to a %d-byte ed25519 seed", ed25519.SeedSize)
			}
			priv := ed25519.NewKeyFromSeed(raw)
			out.JWT.PrivateKey = priv
			out.JWT.PublicKey = priv.Public().(ed25519.PublicKey)
		default:
			out.JWT.PrivateKey = raw
			out.JWT.PublicKey = nil
		}
	} else if out.JWT.SigningMethod != "ed25519" {
		return authcore.Config{}, fmt.Errorf("jwt.key is required for %s", out.JWT.SigningMethod)
	}

	out.Security.ProductionMode = c.Security.ProductionMode
	out.Security.RevokeAllOnReuse = c.Security.RevokeAllOnReuse
	out.Blacklist.FailOpen = c.Security.BlacklistFailOpen
	out.RateLimit.Login = authcore.RatePolicy(c.RateLimit.Login)
	out.RateLimit.Register = authcore.RatePolicy(c.RateLimit.Register)
	out.RateLimit.Refresh = authcore.RatePolicy(c.RateLimit.Refresh)
	out.Store.OpTimeout = c.Database.OpTimeout
	out.Cache.OpTimeout = c.Redis.OpTimeout
	out.Audit.Enabled = c.Audit.Enabled
	out.Metrics.Enabled = c.Metrics.Enabled
	out.Metrics.EnableLatencyHistograms = c.Metrics.Enabled

	if err := out.Validate(); err != nil {
		return authcore.Config{}, err
	}
	return out, nil
}
