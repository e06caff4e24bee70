package authcore

import (
	"errors"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/blacklist"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it once, call Build, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store        refresh.Store
	userProvider UserProvider
	auditSink    AuditSink
	clock        Clock
	logger       *zap.Logger
	scope        ScopeFunc

	built bool
}

// New returns a Builder preloaded with the baseline configuration. The
// baseline has no signing key; pass [DefaultConfig] or your own Config to
// WithConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the rate limiter and the blacklist.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRefreshStore sets the refresh token store.
func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.store = store
	return b
}

// WithUserProvider sets the credential record source.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets the audit destination. It only takes effect when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the wall clock used for issuance, expiry and rate windows.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithLogger sets the logger for infrastructure failures and security
// warnings. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRateLimitScope overrides how rate-limit counters are partitioned.
// The default is [ScopeOrigin].
func (b *Builder) WithRateLimitScope(scope ScopeFunc) *Builder {
	b.scope = scope
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authorize latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies and returns a ready
// Engine. A Builder can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("refresh store required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := b.scope
	if scope == nil {
		scope = ScopeOrigin
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	codec, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    cfg.JWT.RequireIAT,
		KeyID:         cfg.JWT.KeyID,
		Now:           clock.Now,
	})
	if err != nil {
		return nil, err
	}

	// Unknown users are verified against this so they cost one full hash.
	dummyHash, err := hasher.Hash(dummyPassword(cfg.Password.MinLength, cfg.Password.MaxLength))
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		clock:        clock,
		logger:       logger.Named("authcore"),
		hasher:       hasher,
		codec:        codec,
		store:        b.store,
		userProvider: b.userProvider,
		scope:        scope,
		dummyHash:    dummyHash,
	}
	engine.limiter = rate.New(b.redis, rate.Config{
		Prefix: cfg.RateLimit.Prefix,
		Now:    clock.Now,
	})
	engine.blacklist = blacklist.New(b.redis, cfg.Blacklist.Prefix)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.flows = engine.buildFlowDeps()

	for _, w := range cfg.Lint().BySeverity(LintHigh) {
		engine.logger.Warn("risky configuration", zap.String("code", w.Code), zap.String("detail", w.Message))
	}

	b.built = true

	return engine, nil
}

func dummyPassword(minLen, maxLen int) string {
	p := uuid.NewString()
	for len(p) < minLen {
		p += p
	}
	if len(p) > maxLen {
		p = p[:maxLen]
	}
	return p
}
