package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity ranks security events for triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MetaIdentifier is the metadata key carrying the login identifier (email or username)
// for events raised before a user id is known.
const MetaIdentifier = "identifier"

// Event is the canonical security event. It is never mutated after [Prepare].
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Severity  Severity          `json:"severity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Subjects returns the identities an event is indexed under: the user id and, when it
// differs, the login identifier.
func (e Event) Subjects() []string {
	var out []string
	if e.UserID != "" {
		out = append(out, e.UserID)
	}
	if id := e.Metadata[MetaIdentifier]; id != "" && id != e.UserID {
		out = append(out, id)
	}
	return out
}

// Prepare sanitizes metadata and fills id, timestamp and default severity.
func Prepare(event Event, now time.Time) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now.UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityLow
	}
	event.Metadata = Sanitize(event.Metadata)
	return event
}

// Sink receives emitted audit events. Emit must not block the caller's primary
// operation on storage failures.
type Sink interface {
	Emit(ctx context.Context, event Event)
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

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	_ = s.Write(event)
}

// Write appends one event line and reports write failures.
func (s *JSONWriterSink) Write(event Event) error {
	if s == nil || s.writer == nil {
		return io.ErrClosedPipe
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// MultiSink fans one event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
