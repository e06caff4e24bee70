package authcore

import "github.com/MrEthical07/authcore/internal/security"

// SecurityReport summarises the Engine's effective security settings.
type SecurityReport = security.Report

// PasswordConfigReport is the Argon2id part of [SecurityReport].
type PasswordConfigReport = security.PasswordReport

// SecurityReport returns the posture derived from the Engine configuration.
// It contains no key material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	return security.BuildReport(security.ReportInput{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Password: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		UpgradeOnLogin:    cfg.Password.UpgradeOnLogin,
		RevokeAllOnReuse:  cfg.Security.RevokeAllOnReuse,
		BlacklistFailOpen: cfg.Blacklist.FailOpen,
		LoginLimit:        cfg.RateLimit.Login.Limit,
		LoginWindow:       cfg.RateLimit.Login.Window,
		RegisterLimit:     cfg.RateLimit.Register.Limit,
		RegisterWindow:    cfg.RateLimit.Register.Window,
		RefreshLimit:      cfg.RateLimit.Refresh.Limit,
		RefreshWindow:     cfg.RateLimit.Refresh.Window,
		AuditEnabled:      cfg.Audit.Enabled,
		StoreOpTimeout:    cfg.Store.OpTimeout,
		CacheOpTimeout:    cfg.Cache.OpTimeout,
	})
}
