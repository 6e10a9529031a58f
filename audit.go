package campusauth

import (
	"io"

	"github.com/MrEthical07/campusauth/internal/audit"
)

// AuditEvent is one append-only audit log entry.
type AuditEvent = audit.Event

// AuditSink receives events from the dispatcher.
type AuditSink = audit.Sink

// AuditStore is durable audit persistence, such as pgstore.AuditStore.
type AuditStore = audit.Store

// Audit event types.
const (
	AuditLoginAttempt  = audit.TypeLoginAttempt
	AuditOTPRequest    = audit.TypeOTPRequest
	AuditResendOTP     = audit.TypeResendOTP
	AuditRefresh       = audit.TypeRefresh
	AuditLogout        = audit.TypeLogout
	AuditLockout       = audit.TypeLockout
	AuditAccountLinked = audit.TypeAccountLinked
	AuditNewDevice     = audit.TypeNewDevice
)

// Audit statuses.
const (
	AuditSuccess = audit.StatusSuccess
	AuditFailed  = audit.StatusFailed
)

// NewJSONWriterSink writes one JSON line per event.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewChannelSink buffers events on a channel, mostly for tests.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
