package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaNotifierPublishes(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, time.Hour)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	if err := n.DeliverPasswordReset(context.Background(), "alice@example.com", "tok"); err != nil {
		t.Fatalf("DeliverPasswordReset failed: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "alice@example.com" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var msg ResetMessage
	if err := json.Unmarshal(w.msgs[0].Value, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Token != "tok" || !msg.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("unexpected payload %+v", msg)
	}
}

func TestKafkaNotifierReturnsWriteError(t *testing.T) {
	n := newKafkaNotifier(&fakeWriter{err: errors.New("broker down")}, time.Hour)
	if err := n.DeliverPasswordReset(context.Background(), "a@example.com", "tok"); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestNewKafkaNotifierRequiresTopic(t *testing.T) {
	if _, err := NewKafkaNotifier([]string{"localhost:9092"}, "", time.Hour); err == nil {
		t.Fatal("expected error without topic")
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := LogNotifier{Logger: zap.New(core), BaseURL: "http://localhost:8080"}
	if err := n.DeliverPasswordReset(context.Background(), "a@example.com", "tok"); err != nil {
		t.Fatalf("DeliverPasswordReset failed: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 || !strings.HasSuffix(entries[0].ContextMap()["link"].(string), "token=tok") {
		t.Fatalf("unexpected log entries %+v", entries)
	}
}
