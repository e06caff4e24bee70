package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	internalmetrics "github.com/MrEthical07/authcore/internal/metrics"
)

// CounterDef names one Engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one Engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Accounts created."},
	{ID: authcore.MetricRegisterFailure, Name: "authcore_register_failure_total", Help: "Failed registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRegisterRateLimited, Name: "authcore_register_rate_limited_total", Help: "Rate-limited registrations."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Presentations of an already rotated refresh token."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricRevokeAll, Name: "authcore_revoke_all_total", Help: "Revoke-all operations."},
	{ID: authcore.MetricTokensRevoked, Name: "authcore_tokens_revoked_total", Help: "Refresh records moved to revoked."},
	{ID: authcore.MetricBlacklistAdded, Name: "authcore_blacklist_added_total", Help: "Access tokens added to the blacklist."},
	{ID: authcore.MetricAuthorizeSuccess, Name: "authcore_authorize_success_total", Help: "Accepted access tokens."},
	{ID: authcore.MetricAuthorizeFailure, Name: "authcore_authorize_failure_total", Help: "Rejected access tokens."},
	{ID: authcore.MetricAuthorizeRevoked, Name: "authcore_authorize_revoked_total", Help: "Access tokens rejected as blacklisted."},
	{ID: authcore.MetricAuthorizeDegraded, Name: "authcore_authorize_degraded_total", Help: "Access tokens accepted without a blacklist check."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied a request."},
	{ID: authcore.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Stored hashes upgraded on login."},
	{ID: authcore.MetricBackendFailure, Name: "authcore_backend_failure_total", Help: "Store or cache calls that failed."},
	{ID: authcore.MetricBackendTimeout, Name: "authcore_backend_timeout_total", Help: "Store or cache calls that hit their deadline."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthorizeLatency, Name: "authcore_authorize_latency_seconds", Help: "Authorize latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// BucketCount is the number of latency buckets, +Inf included.
const BucketCount = internalmetrics.BucketCount

// HistogramBounds are the le labels, in seconds, of each bucket.
var HistogramBounds = bucketLabels(".", "+Inf")

// HistogramBoundSuffix are HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = bucketLabels("_", "inf")

func bucketLabels(point, last string) []string {
	out := make([]string, 0, internalmetrics.BucketCount)
	for _, b := range internalmetrics.Bounds {
		seconds := strconv.FormatFloat(b.Seconds(), 'f', -1, 64)
		out = append(out, strings.Replace(seconds, ".", point, 1))
	}
	return append(out, last)
}

// CumulativeBuckets converts snapshot buckets to running totals.
func CumulativeBuckets(raw []uint64) [BucketCount]uint64 {
	return internalmetrics.Cumulative(raw)
}
