package teamguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestValidateSessionMissingTokenIsNotAudited(t *testing.T) {
	env := newTestEnv(t, nil)
	v, err := env.engine.ValidateSession(context.Background(), browser("203.0.113.10"))
	if err != nil || v.Valid || v.Reason != ReasonNoToken {
		t.Fatalf("unexpected validation %+v err=%v", v, err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := env.events.find(EventSessionInvalid, nil); ok {
		t.Fatal("a missing token must not be audited")
	}
}

func TestValidateSessionUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	req := browser("203.0.113.10")
	req.SessionToken = "not-a-real-token"

	v, err := env.engine.ValidateSession(context.Background(), req)
	if err != nil || v.Valid || v.Reason != ReasonUnknownToken {
		t.Fatalf("unexpected validation %+v err=%v", v, err)
	}
	if !errors.Is(v.Reason.Err(), ErrSessionNotFound) {
		t.Fatalf("unexpected reason error %v", v.Reason.Err())
	}
	env.events.waitFor(t, EventSessionInvalid, func(e AuditEvent) bool { return e.Metadata["reason"] == "unknown-token" })
}

func TestValidateSessionFingerprintMismatchDeletesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, _ := env.loginAlice(t)

	other, err := env.engine.Login(ctx, aliceEmail, alicePassword, browser("203.0.113.11"))
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	stolen := req
	stolen.DeviceID = other.Session.Fingerprint
	v, err := env.engine.ValidateSession(ctx, stolen)
	if err != nil || v.Valid || v.Reason != ReasonFingerprintMismatch {
		t.Fatalf("expected fingerprint mismatch, got %+v err=%v", v, err)
	}

	v, err = env.engine.ValidateSession(ctx, req)
	if err != nil || v.Reason != ReasonUnknownToken {
		t.Fatalf("mismatched session must be deleted, got %+v err=%v", v, err)
	}

	e := env.events.waitFor(t, EventSessionInvalid, func(e AuditEvent) bool {
		return e.Metadata["reason"] == string(ReasonFingerprintMismatch)
	})
	if e.Severity != SeverityHigh || e.UserID != aliceID {
		t.Fatalf("unexpected mismatch event %+v", e)
	}
}

func TestValidateSessionIdleTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, _ := env.loginAlice(t)

	env.clock.Advance(20 * time.Minute)
	if v, err := env.engine.ValidateSession(ctx, req); err != nil || !v.Valid {
		t.Fatalf("expected session alive after 20m, got %+v err=%v", v, err)
	}

	env.clock.Advance(31 * time.Minute)
	v, err := env.engine.ValidateSession(ctx, req)
	if err != nil || v.Reason != ReasonInactivityTimeout {
		t.Fatalf("expected inactivity timeout, got %+v err=%v", v, err)
	}
	if v, _ := env.engine.ValidateSession(ctx, req); v.Reason != ReasonUnknownToken {
		t.Fatalf("idle session must be deleted, got %+v", v)
	}
}

func TestValidateSessionAbsoluteExpiry(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.IdleTimeout = 0 })
	req, _ := env.loginAlice(t)

	env.clock.Advance(24*time.Hour + time.Second)
	v, err := env.engine.ValidateSession(context.Background(), req)
	if err != nil || v.Reason != ReasonExpired {
		t.Fatalf("expected expiry, got %+v err=%v", v, err)
	}
}

func TestValidateSessionRotatesPastThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, res := env.loginAlice(t)

	for i := 0; i < 3; i++ {
		env.clock.Advance(19 * time.Minute)
		v, err := env.engine.ValidateSession(ctx, req)
		if err != nil || !v.Valid || v.Renewed != nil {
			t.Fatalf("step %d: expected plain validation, got %+v err=%v", i, v, err)
		}
	}

	env.clock.Advance(5 * time.Minute)
	v, err := env.engine.ValidateSession(ctx, req)
	if err != nil || !v.Valid || !v.Rotated || v.Renewed == nil {
		t.Fatalf("expected rotation, got %+v err=%v", v, err)
	}
	if v.Renewed.Token == res.Session.Token {
		t.Fatal("rotation must mint a new token")
	}
	if want := env.clock.Now().Add(24 * time.Hour); !v.Renewed.ExpiresAt.Equal(want) {
		t.Fatalf("expected renewed expiry %v, got %v", want, v.Renewed.ExpiresAt)
	}

	if old, _ := env.engine.ValidateSession(ctx, req); old.Valid {
		t.Fatal("rotated-away token must stop validating")
	}
	next := req
	next.SessionToken = v.Renewed.Token
	if nv, err := env.engine.ValidateSession(ctx, next); err != nil || !nv.Valid {
		t.Fatalf("new token must validate, got %+v err=%v", nv, err)
	}
}

func TestValidateSessionConcurrentRotationHasOneWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, _ := env.loginAlice(t)

	for i := 0; i < 3; i++ {
		env.clock.Advance(19 * time.Minute)
		if v, err := env.engine.ValidateSession(ctx, req); err != nil || !v.Valid {
			t.Fatalf("step %d: expected valid session, got %+v err=%v", i, v, err)
		}
	}
	env.clock.Advance(5 * time.Minute)

	const workers = 16
	results := make([]SessionValidation, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = env.engine.ValidateSession(ctx, req)
		}(i)
	}
	close(start)
	wg.Wait()

	var successor string
	rotated := 0
	for i, v := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if v.Rotated {
			rotated++
			successor = v.Renewed.Token
			continue
		}
		if v.Valid {
			t.Fatalf("worker %d: old token validated after rotation: %+v", i, v)
		}
	}
	if rotated != 1 {
		t.Fatalf("expected exactly one rotation, got %d", rotated)
	}

	next := req
	next.SessionToken = successor
	if v, err := env.engine.ValidateSession(ctx, next); err != nil || !v.Valid || v.Rotated {
		t.Fatalf("successor must validate without rotating again, got %+v err=%v", v, err)
	}
}

func TestValidateSessionExtendsInPlaceWithoutRotation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.RotateOnRenewal = false
		c.Session.IdleTimeout = 0
	})
	req, res := env.loginAlice(t)

	env.clock.Advance(2 * time.Hour)
	v, err := env.engine.ValidateSession(context.Background(), req)
	if err != nil || !v.Valid || v.Rotated || v.Renewed == nil {
		t.Fatalf("expected in-place extension, got %+v err=%v", v, err)
	}
	if v.Renewed.Token != res.Session.Token {
		t.Fatal("extension must keep the token")
	}
}

func TestRotateSessionInvalidatesOldToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, res := env.loginAlice(t)

	grant, err := env.engine.RotateSession(ctx, res.Session.Token, req)
	if err != nil {
		t.Fatalf("RotateSession failed: %v", err)
	}
	if grant.Token == res.Session.Token {
		t.Fatal("expected a new token")
	}
	if _, err := env.engine.RotateSession(ctx, res.Session.Token, req); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second rotation of the old token must fail, got %v", err)
	}
}

func TestInvalidateSessionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, res := env.loginAlice(t)

	for i := 0; i < 2; i++ {
		if err := env.engine.InvalidateSession(ctx, res.Session.Token, req); err != nil {
			t.Fatalf("invalidate %d failed: %v", i, err)
		}
	}
	if v, _ := env.engine.ValidateSession(ctx, req); v.Valid {
		t.Fatal("session must be gone")
	}
	env.events.waitFor(t, EventSessionRevoked, func(e AuditEvent) bool { return e.UserID == aliceID })
}

func TestInvalidateAllSessionsKeepsCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	current, res := env.loginAlice(t)
	for _, ip := range []string{"198.51.100.40", "198.51.100.41"} {
		env.clock.Advance(time.Minute)
		if _, err := env.engine.Login(ctx, aliceEmail, alicePassword, browser(ip)); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
	}

	list, err := env.engine.ActiveSessions(ctx, aliceID, res.Session.Token)
	if err != nil || len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d err=%v", len(list), err)
	}
	if list[0].SourceIP != "198.51.100.41" || !list[2].Current {
		t.Fatalf("expected newest activity first and current marked: %+v", list)
	}

	n, err := env.engine.InvalidateAllSessions(ctx, aliceID, res.Session.Token, current)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked, got %d err=%v", n, err)
	}
	if v, _ := env.engine.ValidateSession(ctx, current); !v.Valid {
		t.Fatal("current session must survive")
	}
	list, _ = env.engine.ActiveSessions(ctx, aliceID, "")
	if len(list) != 1 {
		t.Fatalf("expected 1 remaining session, got %d", len(list))
	}
}

func TestRegenerateSessionDropsPresentedToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, res := env.loginAlice(t)

	grant, err := env.engine.RegenerateSession(ctx, aliceID, req)
	if err != nil {
		t.Fatalf("RegenerateSession failed: %v", err)
	}
	if grant.Token == res.Session.Token || grant.NewFingerprint {
		t.Fatalf("expected fresh token on the same device: %+v", grant)
	}
	if v, _ := env.engine.ValidateSession(ctx, req); v.Valid {
		t.Fatal("presented token must be invalidated")
	}
}

func TestDeviceAnomalyReportedOncePerWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req, _ := env.loginAlice(t)

	moved := req
	moved.IP = "192.0.2.99"
	for i := 0; i < 3; i++ {
		if v, err := env.engine.ValidateSession(ctx, moved); err != nil || !v.Valid {
			t.Fatalf("IP drift must not fail validation: %+v err=%v", v, err)
		}
	}
	env.events.waitFor(t, EventDeviceAnomaly, func(e AuditEvent) bool { return e.Metadata["kind"] == "ip" })
	if got := env.engine.MetricsSnapshot().Counters[MetricDeviceAnomaly]; got != 1 {
		t.Fatalf("expected one anomaly per window, got %d", got)
	}
}

func TestDeviceAnomalyNotRepeatedAfterRotation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.DeviceBinding.AnomalyWindow = 2 * time.Hour
	})
	ctx := context.Background()
	req, _ := env.loginAlice(t)

	moved := req
	moved.IP = "192.0.2.98"
	for i := 0; i < 3; i++ {
		env.clock.Advance(19 * time.Minute)
		if v, err := env.engine.ValidateSession(ctx, moved); err != nil || !v.Valid {
			t.Fatalf("step %d: expected valid session, got %+v err=%v", i, v, err)
		}
	}
	env.clock.Advance(5 * time.Minute)
	v, err := env.engine.ValidateSession(ctx, moved)
	if err != nil || !v.Rotated {
		t.Fatalf("expected rotation, got %+v err=%v", v, err)
	}

	moved.SessionToken = v.Renewed.Token
	if v, err := env.engine.ValidateSession(ctx, moved); err != nil || !v.Valid {
		t.Fatalf("successor must validate, got %+v err=%v", v, err)
	}
	env.events.waitFor(t, EventSessionRotated, nil)
	if got := env.engine.MetricsSnapshot().Counters[MetricDeviceAnomaly]; got != 1 {
		t.Fatalf("rotation must not re-report the same device, got %d anomalies", got)
	}
}

func TestValidateSessionStoreDown(t *testing.T) {
	env := newTestEnv(t, nil)
	req, _ := env.loginAlice(t)
	env.mr.Close()

	if _, err := env.engine.ValidateSession(context.Background(), req); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
