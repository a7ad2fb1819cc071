package internaldefs

import (
	"github.com/MrEthical07/teamguard"
)

// CounterDef maps one engine counter to its exported name.
type CounterDef struct {
	ID   teamguard.MetricID
	Name string
	Help string
}

// HistogramDef maps one engine histogram to its exported name.
type HistogramDef struct {
	ID   teamguard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: teamguard.MetricLoginSuccess, Name: "teamguard_login_success_total", Help: "Successful logins."},
	{ID: teamguard.MetricLoginFailure, Name: "teamguard_login_failure_total", Help: "Failed logins."},
	{ID: teamguard.MetricLoginLocked, Name: "teamguard_login_locked_total", Help: "Logins refused because of a lockout."},
	{ID: teamguard.MetricRateLimitHit, Name: "teamguard_rate_limit_hit_total", Help: "Rate-limit checks that denied the request."},
	{ID: teamguard.MetricAccountLocked, Name: "teamguard_account_locked_total", Help: "Account and IP lockouts applied."},
	{ID: teamguard.MetricAccountUnlocked, Name: "teamguard_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: teamguard.MetricSessionCreated, Name: "teamguard_session_created_total", Help: "Sessions created."},
	{ID: teamguard.MetricSessionValidated, Name: "teamguard_session_validated_total", Help: "Successful session validations."},
	{ID: teamguard.MetricSessionInvalid, Name: "teamguard_session_invalid_total", Help: "Rejected session validations."},
	{ID: teamguard.MetricSessionRotated, Name: "teamguard_session_rotated_total", Help: "Session token rotations."},
	{ID: teamguard.MetricSessionRevoked, Name: "teamguard_session_revoked_total", Help: "Single-session revocations."},
	{ID: teamguard.MetricSessionsRevokedAll, Name: "teamguard_sessions_revoked_all_total", Help: "Revoke-all operations."},
	{ID: teamguard.MetricDeviceAnomaly, Name: "teamguard_device_anomaly_total", Help: "Device anomalies reported."},
	{ID: teamguard.MetricBearerAccepted, Name: "teamguard_bearer_accepted_total", Help: "Bearer tokens accepted."},
	{ID: teamguard.MetricBearerRejected, Name: "teamguard_bearer_rejected_total", Help: "Bearer tokens rejected."},
	{ID: teamguard.MetricAuthFailure, Name: "teamguard_auth_failure_total", Help: "Requests that presented credentials and failed authentication."},
	{ID: teamguard.MetricCSRFRejected, Name: "teamguard_csrf_rejected_total", Help: "Requests rejected by CSRF verification."},
	{ID: teamguard.MetricRequestRejected, Name: "teamguard_request_rejected_total", Help: "Requests rejected by transport prechecks."},
	{ID: teamguard.MetricAccessDenied, Name: "teamguard_access_denied_total", Help: "Authorization denials."},
	{ID: teamguard.MetricPasswordResetRequest, Name: "teamguard_password_reset_request_total", Help: "Password reset tokens issued."},
	{ID: teamguard.MetricPasswordResetDenied, Name: "teamguard_password_reset_denied_total", Help: "Password reset requests denied."},
	{ID: teamguard.MetricPasswordResetSuspicious, Name: "teamguard_password_reset_suspicious_total", Help: "Password reset uses from a different client."},
	{ID: teamguard.MetricPasswordResetSuccess, Name: "teamguard_password_reset_success_total", Help: "Completed password resets."},
	{ID: teamguard.MetricPasswordResetFailure, Name: "teamguard_password_reset_failure_total", Help: "Rejected password reset tokens."},
	{ID: teamguard.MetricPasswordRehash, Name: "teamguard_password_rehash_total", Help: "Password hashes upgraded on login."},
	{ID: teamguard.MetricStoreFailure, Name: "teamguard_store_failure_total", Help: "Operations that failed closed on a backing store error."},
}

var HistogramDefs = []HistogramDef{
	{ID: teamguard.MetricAuthenticateLatency, Name: "teamguard_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// AuditDroppedName is the counter for events the dispatcher could not queue.
const (
	AuditDroppedName = "teamguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."

	AuditDroppedByTypeName = "teamguard_audit_dropped_by_type_total"
	AuditDroppedByTypeHelp = "Audit events dropped because the dispatcher queue was full, by event type."
)

// BucketBounds returns the histogram upper bounds in seconds, excluding +Inf.
func BucketBounds() []float64 {
	out := make([]float64, len(teamguard.HistogramBounds))
	for i, b := range teamguard.HistogramBounds {
		out[i] = b.Seconds()
	}
	return out
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(teamguard.HistogramBounds)+1)
	copy(out, raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last element
// is the total sample count.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(raw))
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
