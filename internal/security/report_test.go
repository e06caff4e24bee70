package security

import (
	"testing"
	"time"
)

func TestBuildReportRatePolicies(t *testing.T) {
	r := BuildReport(ReportInput{
		LoginLimit:     5,
		LoginWindow:    15 * time.Minute,
		RegisterLimit:  5,
		RegisterWindow: 0,
		RefreshLimit:   0,
		RefreshWindow:  time.Minute,
		StoreOpTimeout: time.Second,
	})

	if !r.LoginRateLimited {
		t.Fatalf("expected login limited")
	}
	if r.RegisterRateLimited {
		t.Fatalf("zero window must not count as limited")
	}
	if r.RefreshRateLimited {
		t.Fatalf("zero limit must not count as limited")
	}
	if r.BackendTimeoutsBounded {
		t.Fatalf("missing cache timeout must not count as bounded")
	}
}

func TestBuildReportEchoesSettings(t *testing.T) {
	in := ReportInput{
		ProductionMode:    true,
		SigningAlgorithm:  "ed25519",
		AccessTTL:         5 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		Password:          PasswordReport{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		RevokeAllOnReuse:  true,
		BlacklistFailOpen: true,
		AuditEnabled:      true,
		StoreOpTimeout:    time.Second,
		CacheOpTimeout:    time.Second,
	}
	r := BuildReport(in)

	if !r.ProductionMode || r.SigningAlgorithm != "ed25519" || r.AccessTTL != 5*time.Minute {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.Argon2 != in.Password {
		t.Fatalf("argon2 params not echoed: %+v", r.Argon2)
	}
	if !r.ReuseRevokesAll || !r.BlacklistFailOpen || !r.AuditEnabled || !r.BackendTimeoutsBounded {
		t.Fatalf("flags not echoed: %+v", r)
	}
}
