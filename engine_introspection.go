package teamguard

import (
	"context"
	"time"

	"github.com/MrEthical07/teamguard/internal/limiters"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
	AuditDelivered uint64
	AuditPending   int
	AuditDropped   uint64
	AuditFallbacks uint64
}

// LockoutStatus is the failed-attempt state of one login identifier or IP.
type LockoutStatus struct {
	FailedAttempts int
	Locked         bool
	LockedUntil    time.Time
	Lockouts       int
}

// Health pings the security store. It never returns an error; an unreachable store
// is reported through RedisAvailable.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessionStore == nil {
		return HealthStatus{}
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	latency, err := e.sessionStore.Ping(sctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
		AuditDelivered: e.audit.Delivered(),
		AuditPending:   e.audit.Pending(),
		AuditDropped:   e.AuditDropped(),
		AuditFallbacks: e.AuditFallbacks(),
	}
}

// AccountLockoutStatus reports the tracker state of a login identifier.
func (e *Engine) AccountLockoutStatus(ctx context.Context, identifier string) (LockoutStatus, error) {
	return e.lockoutStatus(ctx, e.accountLockout, limiters.ScopeAccount, normalizeIdentifier(identifier))
}

// IPLockoutStatus reports the tracker state of a source IP.
func (e *Engine) IPLockoutStatus(ctx context.Context, ip string) (LockoutStatus, error) {
	return e.lockoutStatus(ctx, e.ipLockout, limiters.ScopeIP, ip)
}

func (e *Engine) lockoutStatus(ctx context.Context, tracker *limiters.LockoutTracker, scope limiters.Scope, identity string) (LockoutStatus, error) {
	if e == nil || tracker == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}
	if identity == "" {
		return LockoutStatus{}, nil
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	rec, locked, err := tracker.IsLocked(sctx, scope, identity)
	if err != nil {
		return LockoutStatus{}, e.storeFailure("lockout.status", err)
	}
	return LockoutStatus{
		FailedAttempts: rec.Count,
		Locked:         locked,
		LockedUntil:    rec.LockExpiresAt,
		Lockouts:       rec.Lockouts,
	}, nil
}
