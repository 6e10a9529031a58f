package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeLoginAttempt  = "LOGIN_ATTEMPT"
	TypeOTPRequest    = "OTP_REQUEST"
	TypeResendOTP     = "RESEND_OTP"
	TypeRefresh       = "REFRESH"
	TypeLogout        = "LOGOUT"
	TypeLockout       = "LOCKOUT"
	TypeAccountLinked = "ACCOUNT_LINKED"
	TypeNewDevice     = "NEW_DEVICE"
)

// Statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Event is one append-only audit log entry.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	Status     string            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Method     string            `json:"method,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-sortable event id.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Store is a durable append-only destination for events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// StoreSink appends events to a durable Store. A failed write is retried
// once and then logged; it is never returned to the request path.
type StoreSink struct {
	store   Store
	logger  *zap.Logger
	timeout time.Duration
}

func NewStoreSink(store Store, logger *zap.Logger, timeout time.Duration) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StoreSink{
		store:   store,
		logger:  logger,
		timeout: timeout,
	}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.store == nil {
		return
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		err = s.store.Append(writeCtx, event)
		cancel()
		if err == nil {
			return
		}
	}

	s.logger.Error("audit append failed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("status", event.Status),
		zap.Error(err),
	)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
