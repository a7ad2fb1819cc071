package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSanitizeRedactsSecretKeys(t *testing.T) {
	in := map[string]string{
		"password":       "hunter22",
		"apiKey":         "abc",
		"X-Auth-Token":   "t",
		"Authorization":  "Bearer x",
		"session_cookie": "c",
		"reason":         "bad_password_attempt",
		"identifier":     "alice@example.com",
	}
	out := Sanitize(in)

	for _, k := range []string{"password", "apiKey", "X-Auth-Token", "Authorization", "session_cookie"} {
		if out[k] != Redacted {
			t.Fatalf("key %q not redacted: %q", k, out[k])
		}
	}
	if out["reason"] != "bad_password_attempt" || out["identifier"] != "alice@example.com" {
		t.Fatalf("non-secret keys must pass through: %v", out)
	}
	if in["password"] != "hunter22" {
		t.Fatalf("Sanitize must not mutate its input")
	}
}

func TestPrepareFillsDefaults(t *testing.T) {
	e := Prepare(Event{Type: "LOGIN_FAILURE", Metadata: map[string]string{"password": "x"}}, base)
	if e.ID == "" || !e.Timestamp.Equal(base) || e.Severity != SeverityLow {
		t.Fatalf("unexpected prepared event %+v", e)
	}
	if e.Metadata["password"] != Redacted {
		t.Fatalf("prepare must sanitize metadata")
	}
}

func TestRedisStoreNeverHoldsSecretValue(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	e := Prepare(Event{Type: "LOGIN_FAILURE", IP: "1.2.3.4", Metadata: map[string]string{"password": "hunter22"}}, base)
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	members, err := mr.ZMembers(keyAll)
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	for _, m := range members {
		if strings.Contains(m, "hunter22") {
			t.Fatalf("stored record contains the secret value: %s", m)
		}
	}
}

func TestRedisStoreQueryNewestFirstWithFilters(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()

	events := []Event{
		{Type: TypeAuthFailure, UserID: "u1", IP: "10.0.0.1"},
		{Type: "LOGIN_SUCCESS", UserID: "u1", IP: "10.0.0.1"},
		{Type: TypeAuthFailure, UserID: "u2", IP: "10.0.0.2"},
		{Type: TypeAuthFailure, UserID: "u1", IP: "10.0.0.3"},
	}
	for i, e := range events {
		if err := s.Append(ctx, Prepare(e, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.Query(ctx, Filter{UserID: "u1", Types: []string{TypeAuthFailure}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].IP != "10.0.0.3" || got[1].IP != "10.0.0.1" {
		t.Fatalf("unexpected result order/content: %+v", got)
	}

	limited, err := s.Query(ctx, Filter{Limit: 1})
	if err != nil || len(limited) != 1 || limited[0].IP != "10.0.0.3" {
		t.Fatalf("limit query: %+v err=%v", limited, err)
	}

	ranged, err := s.Query(ctx, Filter{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
	if err != nil || len(ranged) != 2 {
		t.Fatalf("range query: %+v err=%v", ranged, err)
	}
}

func TestRedisStorePrune(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()

	_ = s.Append(ctx, Prepare(Event{Type: "X", UserID: "old", IP: "1.1.1.1"}, base))
	_ = s.Append(ctx, Prepare(Event{Type: "X", UserID: "new", IP: "1.1.1.1"}, base.Add(time.Hour)))

	removed, err := s.Prune(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned event, got %d", removed)
	}
	if mr.Exists(subjectKey("old")) {
		t.Fatalf("emptied subject index must be deleted")
	}
	if !mr.Exists(ipKey("1.1.1.1")) {
		t.Fatalf("non-empty ip index must survive")
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return ErrStoreUnavailable }
func (failingStore) Query(context.Context, Filter) ([]Event, error) {
	return nil, ErrStoreUnavailable
}
func (failingStore) Prune(context.Context, time.Time) (int, error) {
	return 0, ErrStoreUnavailable
}

func TestFallbackSinkWritesFileOnStoreFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFallbackSink(failingStore{}, NewJSONWriterSink(&buf), zaptest.NewLogger(t))

	sink.Emit(context.Background(), Prepare(Event{Type: "ACCOUNT_LOCKED", UserID: "u1"}, base))

	if sink.FellBack() != 1 {
		t.Fatalf("expected one fallback write")
	}
	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("fallback line is not JSON: %v", err)
	}
	if decoded.Type != "ACCOUNT_LOCKED" || decoded.UserID != "u1" {
		t.Fatalf("unexpected fallback event %+v", decoded)
	}
}

func TestFallbackSinkUsesPrimaryWhenHealthy(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	var buf bytes.Buffer
	sink := NewFallbackSink(s, NewJSONWriterSink(&buf), nil)

	sink.Emit(context.Background(), Prepare(Event{Type: "LOGIN_SUCCESS", UserID: "u1"}, base))

	if buf.Len() != 0 || sink.FellBack() != 0 {
		t.Fatalf("fallback must stay unused while the store works")
	}
	got, err := s.Query(context.Background(), Filter{UserID: "u1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected event in primary store, got %+v err=%v", got, err)
	}
}

func TestDetectSuspiciousAuthMatchesIdentifierAndIP(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	now := base.Add(10 * time.Minute)

	_ = s.Append(ctx, Prepare(Event{Type: TypeLoginFailure, IP: "9.9.9.9", Metadata: map[string]string{MetaIdentifier: "alice"}}, now.Add(-time.Minute)))
	_ = s.Append(ctx, Prepare(Event{Type: TypeAuthFailure, UserID: "alice", IP: "8.8.8.8"}, now.Add(-2*time.Minute)))
	_ = s.Append(ctx, Prepare(Event{Type: TypeAuthFailure, UserID: "alice"}, now.Add(-time.Hour)))
	_ = s.Append(ctx, Prepare(Event{Type: "LOGIN_SUCCESS", UserID: "alice"}, now.Add(-time.Minute)))

	d, err := DetectSuspiciousAuth(ctx, s, "alice", now, 5*time.Minute, 2)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if d.Count != 2 || !d.Flagged {
		t.Fatalf("expected 2 flagged failures, got %+v", d)
	}

	byIP, err := DetectSuspiciousAuth(ctx, s, "9.9.9.9", now, 5*time.Minute, 2)
	if err != nil || byIP.Count != 1 || byIP.Flagged {
		t.Fatalf("ip detection: %+v err=%v", byIP, err)
	}
}

func TestDetectReconnaissance(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	now := base

	for i := 0; i < 3; i++ {
		_ = s.Append(ctx, Prepare(Event{Type: TypeAccessDenied, IP: "6.6.6.6"}, now.Add(-time.Duration(i)*time.Second)))
	}
	d, err := DetectReconnaissance(ctx, s, "6.6.6.6", now, time.Minute, 3)
	if err != nil || !d.Flagged {
		t.Fatalf("expected reconnaissance flagged, got %+v err=%v", d, err)
	}
	if _, err := DetectReconnaissance(ctx, failingStore{}, "x", now, time.Minute, 1); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestDispatcherDeliversAfterCallerCancel(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8, EmitTimeout: time.Second}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	d.Emit(ctx, Event{Type: "LOGIN_SUCCESS"})
	cancel()
	d.Close()

	if len(sink.events) != 1 || d.Delivered() != 1 {
		t.Fatalf("event must be delivered even after the caller's context is cancelled")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: "X"})
	}
	close(block)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatalf("expected dropped events with a full buffer")
	}
}

func TestDispatcherCountsDropsByType(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// The first event is taken by the worker, the second fills the buffer.
	d.Emit(context.Background(), Event{Type: "LOGIN_SUCCESS", Severity: SeverityLow})
	waitPending(t, d, 0)
	d.Emit(context.Background(), Event{Type: "LOGIN_SUCCESS", Severity: SeverityLow})
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Type: "LOGIN_FAILURE", Severity: SeverityMedium})
	}
	d.Emit(context.Background(), Event{Type: "SESSION_CREATED", Severity: SeverityLow})

	got := d.DroppedByType()
	close(block)
	d.Close()

	if got["LOGIN_FAILURE"] != 3 || got["SESSION_CREATED"] != 1 || got["LOGIN_SUCCESS"] != 0 {
		t.Fatalf("unexpected drop counts %v", got)
	}
	if d.Dropped() != 4 {
		t.Fatalf("expected 4 dropped, got %d", d.Dropped())
	}
}

func TestDispatcherNeverDropsHighSeverityWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	d.Emit(context.Background(), Event{Type: "LOGIN_SUCCESS", Severity: SeverityLow})
	waitPending(t, d, 0)
	d.Emit(context.Background(), Event{Type: "LOGIN_SUCCESS", Severity: SeverityLow})

	emitted := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{Type: "ACCOUNT_LOCKED", Severity: SeverityCritical})
		close(emitted)
	}()
	select {
	case <-emitted:
		t.Fatal("critical event must wait for room instead of being dropped")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-emitted
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 3 {
		t.Fatalf("expected all three delivered, dropped=%d delivered=%d", d.Dropped(), d.Delivered())
	}
}

func TestDispatcherHighSeverityDropsOnCallerCancel(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	d.Emit(context.Background(), Event{Type: "X", Severity: SeverityLow})
	waitPending(t, d, 0)
	d.Emit(context.Background(), Event{Type: "X", Severity: SeverityLow})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{Type: "SUSPICIOUS_ACTIVITY", Severity: SeverityHigh})

	close(block)
	d.Close()
	if got := d.DroppedByType(); got["SUSPICIOUS_ACTIVITY"] != 1 {
		t.Fatalf("expected the high severity event counted once it gave up, got %v", got)
	}
}

func waitPending(t *testing.T, d *Dispatcher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pending stuck at %d, want %d", d.Pending(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

type blockingSink struct{ release chan struct{} }

func (s *blockingSink) Emit(context.Context, Event) { <-s.release }

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, nil, b}.Emit(context.Background(), Event{Type: "X"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	if d != nil {
		t.Fatalf("disabled dispatcher must be nil")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
}
