package internaldefs

import (
	"github.com/MrEthical07/campusauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   campusauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   campusauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: campusauth.MetricLoginSuccess, Name: "campusauth_login_success_total", Help: "Successful logins across all methods."},
	{ID: campusauth.MetricLoginFailure, Name: "campusauth_login_failure_total", Help: "Rejected login attempts."},
	{ID: campusauth.MetricLoginLocked, Name: "campusauth_login_locked_total", Help: "Login attempts refused by an active lock."},
	{ID: campusauth.MetricLockoutTriggered, Name: "campusauth_lockout_triggered_total", Help: "Locks placed on an identifier or origin."},
	{ID: campusauth.MetricOTPIssued, Name: "campusauth_otp_issued_total", Help: "One-time codes generated and sent."},
	{ID: campusauth.MetricOTPCooldown, Name: "campusauth_otp_cooldown_total", Help: "Code requests refused by the cooldown."},
	{ID: campusauth.MetricRefreshSuccess, Name: "campusauth_refresh_success_total", Help: "Successful session rotations."},
	{ID: campusauth.MetricRefreshFailure, Name: "campusauth_refresh_failure_total", Help: "Failed session rotations."},
	{ID: campusauth.MetricRefreshReuse, Name: "campusauth_refresh_reuse_total", Help: "Refresh secrets presented against the wrong session."},
	{ID: campusauth.MetricSessionCreated, Name: "campusauth_session_created_total", Help: "Sessions issued at login."},
	{ID: campusauth.MetricSessionRevoked, Name: "campusauth_session_revoked_total", Help: "Logout and revocation operations."},
	{ID: campusauth.MetricAccountLinked, Name: "campusauth_account_linked_total", Help: "Federated subjects linked to an account."},
	{ID: campusauth.MetricNewDevice, Name: "campusauth_new_device_total", Help: "Logins from an origin not seen before."},
	{ID: campusauth.MetricValidateFailure, Name: "campusauth_validate_failure_total", Help: "Rejected access tokens."},
	{ID: campusauth.MetricPasswordRehashed, Name: "campusauth_password_rehashed_total", Help: "Password hashes upgraded on login."},
	{ID: campusauth.MetricNotificationFailed, Name: "campusauth_notification_failed_total", Help: "Failed code or new-device notifications."},
}

var HistogramDefs = []HistogramDef{
	{ID: campusauth.MetricValidateLatency, Name: "campusauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramUpperBounds are the bucket limits in seconds, matching the
// engine's fixed buckets. The last engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

const (
	AuditDroppedName = "campusauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped under dispatcher backpressure."
)

// NormalizeBuckets copies raw into a fixed eight-slot array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
