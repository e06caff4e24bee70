package security

import "time"

// PasswordReport echoes the Argon2id parameters new hashes are created with.
type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarises the effective security posture of one Engine.
type Report struct {
	ProductionMode         bool
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Argon2                 PasswordReport
	HashUpgradeOnLogin     bool
	ReuseRevokesAll        bool
	BlacklistFailOpen      bool
	LoginRateLimited       bool
	RegisterRateLimited    bool
	RefreshRateLimited     bool
	AuditEnabled           bool
	BackendTimeoutsBounded bool
}

// ReportInput is the flattened configuration BuildReport reads.
type ReportInput struct {
	ProductionMode    bool
	SigningAlgorithm  string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	Password          PasswordReport
	UpgradeOnLogin    bool
	RevokeAllOnReuse  bool
	BlacklistFailOpen bool
	LoginLimit        int
	LoginWindow       time.Duration
	RegisterLimit     int
	RegisterWindow    time.Duration
	RefreshLimit      int
	RefreshWindow     time.Duration
	AuditEnabled      bool
	StoreOpTimeout    time.Duration
	CacheOpTimeout    time.Duration
}

// BuildReport derives a Report. A rate policy counts as active only when
// both its limit and window are positive.
func BuildReport(input ReportInput) Report {
	active := func(limit int, window time.Duration) bool {
		return limit > 0 && window > 0
	}

	return Report{
		ProductionMode:         input.ProductionMode,
		SigningAlgorithm:       input.SigningAlgorithm,
		AccessTTL:              input.AccessTTL,
		RefreshTTL:             input.RefreshTTL,
		Argon2:                 input.Password,
		HashUpgradeOnLogin:     input.UpgradeOnLogin,
		ReuseRevokesAll:        input.RevokeAllOnReuse,
		BlacklistFailOpen:      input.BlacklistFailOpen,
		LoginRateLimited:       active(input.LoginLimit, input.LoginWindow),
		RegisterRateLimited:    active(input.RegisterLimit, input.RegisterWindow),
		RefreshRateLimited:     active(input.RefreshLimit, input.RefreshWindow),
		AuditEnabled:           input.AuditEnabled,
		BackendTimeoutsBounded: input.StoreOpTimeout > 0 && input.CacheOpTimeout > 0,
	}
}
