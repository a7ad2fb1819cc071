package teamguard

import (
	"io"

	"github.com/MrEthical07/teamguard/internal/audit"
)

// Audit event types. Every security-relevant decision of the engine emits one of
// these.
const (
	EventLoginSuccess              = "LOGIN_SUCCESS"
	EventLoginFailure              = audit.TypeLoginFailure
	EventAuthFailure               = audit.TypeAuthFailure
	EventAccessDenied              = audit.TypeAccessDenied
	EventAccountLocked             = "ACCOUNT_LOCKED"
	EventAccountUnlocked           = "ACCOUNT_UNLOCKED"
	EventRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
	EventSessionCreated            = "SESSION_CREATED"
	EventSessionInvalid            = "SESSION_INVALID"
	EventSessionRotated            = "SESSION_ROTATED"
	EventSessionRevoked            = "SESSION_REVOKED"
	EventSessionsRevoked           = "SESSIONS_REVOKED"
	EventDeviceAnomaly             = "DEVICE_ANOMALY"
	EventPasswordResetRequested    = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetDenied       = "PASSWORD_RESET_DENIED"
	EventPasswordResetInvalid      = "PASSWORD_RESET_INVALID"
	EventPasswordResetSuspicious   = "PASSWORD_RESET_SUSPICIOUS"
	EventPasswordResetCompleted    = "PASSWORD_RESET_COMPLETED"
	EventPasswordRehashed          = "PASSWORD_REHASHED"
	EventSuspiciousActivityFlagged = "SUSPICIOUS_ACTIVITY"
)

// Severity levels re-exported for callers that log their own events.
const (
	SeverityLow      = audit.SeverityLow
	SeverityMedium   = audit.SeverityMedium
	SeverityHigh     = audit.SeverityHigh
	SeverityCritical = audit.SeverityCritical
)

type (
	// AuditEvent is a recorded security event.
	AuditEvent = audit.Event
	// AuditSeverity ranks events for triage.
	AuditSeverity = audit.Severity
	// AuditFilter selects events for [Engine.QueryEvents].
	AuditFilter = audit.Filter
	// AuditSink receives every emitted event next to the event store.
	AuditSink = audit.Sink
	// AuditStore persists events and answers queries.
	AuditStore = audit.Store
	// Detection is the verdict of a detector query.
	Detection = audit.Detection
)

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewChannelSink returns a buffered channel sink, mostly useful in tests.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
