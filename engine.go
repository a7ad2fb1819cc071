package teamguard

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/teamguard/internal/audit"
	"github.com/MrEthical07/teamguard/internal/limiters"
	"github.com/MrEthical07/teamguard/internal/rate"
	"github.com/MrEthical07/teamguard/internal/stores"
	"github.com/MrEthical07/teamguard/jwt"
	"github.com/MrEthical07/teamguard/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine is the authentication and session security core. It is safe for concurrent
// use once returned by [Builder.Build].
type Engine struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	random io.Reader

	redis          redis.UniversalClient
	sessionStore   *session.Store
	rateLimiter    *rate.Limiter
	accountLockout *limiters.LockoutTracker
	ipLockout      *limiters.LockoutTracker
	resetStore     *stores.PasswordResetStore

	credentials  CredentialStore
	passwordHash Hasher
	// dummyHash is verified against for unknown identifiers so a miss costs the same
	// as a wrong password.
	dummyHash      string
	jwtManager     *jwt.Manager
	authenticators []Authenticator

	auditStore    audit.Store
	audit         *audit.Dispatcher
	auditFallback *audit.FallbackSink
	closers       []io.Closer

	metrics *Metrics
}

// Close stops the audit dispatcher after draining it and releases files the builder
// opened. The Redis client belongs to the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("close audit resource", zap.Error(err))
		}
	}
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Logger returns the engine logger for adapters that log next to it.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// AuditDropped reports events discarded because the dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType splits [Engine.AuditDropped] by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.audit == nil {
		return nil
	}
	return e.audit.DroppedByType()
}

// AuditFallbacks reports events written to the fallback stream after a store failure.
func (e *Engine) AuditFallbacks() uint64 {
	if e == nil || e.auditFallback == nil {
		return 0
	}
	return e.auditFallback.FellBack()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeContext bounds a backend call by Security.StoreTimeout.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Security.StoreTimeout)
}

// storeFailure records and logs a backend failure and returns it wrapped as
// ErrStoreUnavailable.
func (e *Engine) storeFailure(op string, err error) error {
	e.metricInc(MetricStoreFailure)
	e.logger.Error("security store failure", zap.String("op", op), zap.Error(err))
	return storeErr(err)
}

func (e *Engine) ready() error {
	if e == nil || e.sessionStore == nil || e.credentials == nil {
		return ErrEngineNotReady
	}
	return nil
}
