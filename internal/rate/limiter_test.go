package rate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiterTest(t *testing.T, rules map[string]Rule) (*Limiter, *testClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	return New(rdb, rules, clock.Now), clock, mr
}

func TestCheckAllowsLimitThenDenies(t *testing.T) {
	l, _, _ := newLimiterTest(t, map[string]Rule{"login": {Limit: 3, Window: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "login", "alice")
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("check %d: unexpected decision %+v", i+1, d)
		}
	}

	d, err := l.Check(ctx, "login", "alice")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) || exceeded.Action != "login" {
		t.Fatalf("expected ExceededError for login, got %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected denial decision %+v", d)
	}
}

func TestCheckConcurrentHitsRespectLimit(t *testing.T) {
	l, _, _ := newLimiterTest(t, map[string]Rule{"login": {Limit: 10, Window: time.Minute}})
	ctx := context.Background()

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.Check(ctx, "login", "shared")
			switch {
			case err == nil && d.Allowed:
				allowed.Add(1)
			case errors.Is(err, ErrRateLimited):
				denied.Add(1)
			default:
				t.Errorf("unexpected result %+v err=%v", d, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if allowed.Load() != 10 || denied.Load() != 54 {
		t.Fatalf("expected 10 allowed and 54 denied, got %d and %d", allowed.Load(), denied.Load())
	}
}

func TestWindowHasNoCarryOver(t *testing.T) {
	l, clock, _ := newLimiterTest(t, map[string]Rule{"api": {Limit: 2, Window: 10 * time.Second}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Check(ctx, "api", "10.0.0.1")
	}
	clock.Advance(10 * time.Second)

	d, err := l.Check(ctx, "api", "10.0.0.1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected fresh window after W, got %+v err=%v", d, err)
	}
}

func TestRetryAfterTracksOldestBlockingHit(t *testing.T) {
	l, clock, _ := newLimiterTest(t, map[string]Rule{"api": {Limit: 2, Window: 10 * time.Second}})
	ctx := context.Background()

	_, _ = l.Check(ctx, "api", "k")
	clock.Advance(4 * time.Second)
	_, _ = l.Check(ctx, "api", "k")
	clock.Advance(1 * time.Second)

	d, err := l.Check(ctx, "api", "k")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected denial, got %v", err)
	}
	// Second hit (t=4s) must age out before a retry can fit: 4s + 10s - 5s.
	if d.RetryAfter != 9*time.Second {
		t.Fatalf("expected retry after 9s, got %s", d.RetryAfter)
	}
}

func TestActionsAreIndependent(t *testing.T) {
	l, _, _ := newLimiterTest(t, map[string]Rule{
		"message-send": {Limit: 1, Window: time.Minute},
		"group-create": {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	if _, err := l.Check(ctx, "message-send", "u1"); err != nil {
		t.Fatalf("first message-send: %v", err)
	}
	if _, err := l.Check(ctx, "message-send", "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second message-send should be limited, got %v", err)
	}
	if _, err := l.Check(ctx, "group-create", "u1"); err != nil {
		t.Fatalf("group-create must not be blocked by message-send: %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	l, _, _ := newLimiterTest(t, nil)
	if _, err := l.Check(context.Background(), "nope", "x"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestResetClearsWindow(t *testing.T) {
	l, _, _ := newLimiterTest(t, map[string]Rule{"login": {Limit: 1, Window: time.Hour}})
	ctx := context.Background()

	_, _ = l.Check(ctx, "login", "bob")
	if err := l.Reset(ctx, "login", "bob"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := l.Check(ctx, "login", "bob"); err != nil {
		t.Fatalf("expected allowed after reset, got %v", err)
	}
}

func TestSweepDeletesStaleWindows(t *testing.T) {
	l, clock, mr := newLimiterTest(t, map[string]Rule{"api": {Limit: 5, Window: time.Second}})
	ctx := context.Background()

	_, _ = l.Check(ctx, "api", "a")
	_, _ = l.Check(ctx, "api", "b")
	clock.Advance(2 * time.Second)
	_, _ = l.Check(ctx, "api", "b")

	removed, err := l.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one stale window removed, got %d", removed)
	}
	if mr.Exists("rl:api:a") || !mr.Exists("rl:api:b") {
		t.Fatalf("unexpected keys after sweep: %v", mr.Keys())
	}
}

func TestCheckRedisDown(t *testing.T) {
	l, _, mr := newLimiterTest(t, map[string]Rule{"api": {Limit: 1, Window: time.Second}})
	mr.Close()
	if _, err := l.Check(context.Background(), "api", "x"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		failures int
		jitter   time.Duration
		want     time.Duration
	}{
		{0, 0, time.Second},
		{3, 0, 8 * time.Second},
		{3, 500 * time.Millisecond, 8*time.Second + 500*time.Millisecond},
		{10, 0, time.Minute},
		{200, 0, time.Minute},
	}
	for _, tc := range cases {
		got := Backoff(time.Second, tc.failures, time.Minute, tc.jitter)
		if got != tc.want {
			t.Fatalf("Backoff(1s, %d, 1m, %s) = %s, want %s", tc.failures, tc.jitter, got, tc.want)
		}
	}
}
