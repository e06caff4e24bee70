package authcore

import (
	"errors"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	// LintInfo marks a setting worth knowing about.
	LintInfo LintSeverity = iota
	// LintWarn marks a setting that weakens a default.
	LintWarn
	// LintHigh marks a setting that defeats a security property.
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding produced by [Config.Lint].
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the finding codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns findings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins findings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(hits))
	for _, w := range hits {
		msgs = append(msgs, w.Severity.String()+" "+w.Code+": "+w.Message)
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that are valid but risky. It never mutates c.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway above 1m extends token validity")
	}
	if c.JWT.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens live longer than 15m")
	}
	if c.JWT.RefreshTTL > 14*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens live longer than 14d")
	}
	if c.JWT.SigningMethod == "hs256" {
		add("signing_hs256", LintInfo, "hs256 shares the signing secret with every verifier")
	}
	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "argon2 memory below 64 MB")
	}
	if c.RateLimit.Login.Limit == 0 && c.RateLimit.Register.Limit == 0 && c.RateLimit.Refresh.Limit == 0 {
		add("rate_limits_disabled", LintHigh, "no authentication endpoint is throttled")
	} else if c.RateLimit.Login.Limit == 0 {
		add("login_unthrottled", LintWarn, "login is not throttled")
	}
	if c.Blacklist.FailOpen {
		add("blacklist_fail_open", LintHigh, "revoked access tokens are accepted while the blacklist is down")
	}
	if !c.Security.RevokeAllOnReuse {
		add("reuse_no_escalation", LintInfo, "refresh reuse is rejected but sibling tokens stay valid")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events are not audited")
	}
	if c.Store.OpTimeout == 0 || c.Cache.OpTimeout == 0 {
		add("timeouts_unbounded", LintWarn, "backend calls inherit only the caller deadline")
	}
	return ws
}
