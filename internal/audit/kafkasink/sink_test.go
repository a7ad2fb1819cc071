package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"

	"github.com/MrEthical07/teamguard/internal/audit"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestEmitPublishesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	sink := newWithWriter(w, zaptest.NewLogger(t))

	event := audit.Event{
		ID:        "ev-1",
		Type:      "ACCOUNT_LOCKED",
		UserID:    "u1",
		IP:        "10.0.0.1",
		Severity:  audit.SeverityHigh,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}
	sink.Emit(context.Background(), event)

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Fatalf("expected user id key, got %q", msg.Key)
	}
	var decoded audit.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.ID != "ev-1" {
		t.Fatalf("unexpected payload %s err=%v", msg.Value, err)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != "ACCOUNT_LOCKED" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
}

func TestEmitFallsBackToIPKey(t *testing.T) {
	w := &fakeWriter{}
	newWithWriter(w, nil).Emit(context.Background(), audit.Event{ID: "x", IP: "10.0.0.9"})
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "10.0.0.9" {
		t.Fatalf("expected ip key, got %+v", w.msgs)
	}
}

func TestEmitSwallowsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newWithWriter(w, zaptest.NewLogger(t))
	sink.Emit(context.Background(), audit.Event{ID: "x"})
	if err := sink.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestNewWithoutBrokersIsNil(t *testing.T) {
	if s := New(nil, "audit", nil); s != nil {
		t.Fatalf("expected nil sink without brokers")
	}
	var s *Sink
	s.Emit(context.Background(), audit.Event{})
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
