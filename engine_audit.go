package teamguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/teamguard/internal/audit"
	"go.uber.org/zap"
)

// auditErrorCode is the stable error label stored in event metadata.
type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrUserNotFound       auditErrorCode = "user_not_found"
	auditErrAccountLocked      auditErrorCode = "account_locked"
	auditErrRateLimited        auditErrorCode = "rate_limited"
	auditErrInvalidToken       auditErrorCode = "invalid_token"
	auditErrSessionNotFound    auditErrorCode = "session_not_found"
	auditErrSessionExpired     auditErrorCode = "session_expired"
	auditErrSessionInactive    auditErrorCode = "session_inactive"
	auditErrFingerprint        auditErrorCode = "fingerprint_mismatch"
	auditErrCSRF               auditErrorCode = "csrf"
	auditErrForbidden          auditErrorCode = "forbidden"
	auditErrUnavailable        auditErrorCode = "backend_unavailable"
	auditErrInternal           auditErrorCode = "internal_error"
)

func auditErrorCodeOf(err error) auditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrBearerInvalid), errors.Is(err, ErrPasswordResetInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrSessionInactive):
		return auditErrSessionInactive
	case errors.Is(err, ErrFingerprintMismatch):
		return auditErrFingerprint
	case errors.Is(err, ErrCSRFMissing), errors.Is(err, ErrCSRFMismatch):
		return auditErrCSRF
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	default:
		return auditErrInternal
	}
}

// emitAudit queues one event. Delivery outlives ctx so an aborted request still leaves
// its trace.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity audit.Severity,
	userID string,
	req RequestInfo,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if code := auditErrorCodeOf(err); code != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["error"] = string(code)
	}

	event := audit.Prepare(audit.Event{
		Type:      eventType,
		UserID:    userID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Severity:  severity,
		Metadata:  metadata,
	}, e.now())

	e.audit.Emit(context.WithoutCancel(ctx), event)
}

func (e *Engine) emitRateLimit(ctx context.Context, action, scope string, req RequestInfo, retryAfter time.Duration) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, EventRateLimitExceeded, audit.SeverityMedium, "", req, nil, func() map[string]string {
		return map[string]string{
			"action":      action,
			"scope":       scope,
			"retry_after": retryAfter.String(),
		}
	})
}

// LogEvent records a caller-built event through the same pipeline as engine events.
// Metadata is sanitized before storage.
func (e *Engine) LogEvent(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(context.WithoutCancel(ctx), audit.Prepare(event, e.now()))
}

// QueryEvents returns stored events matching filter, newest first.
func (e *Engine) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if e == nil || e.auditStore == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	events, err := e.auditStore.Query(sctx, filter)
	if err != nil {
		return nil, e.storeFailure("audit.query", err)
	}
	return events, nil
}

// DetectSuspiciousAuth flags identity (user id, login identifier or IP) when it
// accumulated at least threshold authentication failures within window. Zero window
// or threshold fall back to the configured detection settings.
func (e *Engine) DetectSuspiciousAuth(ctx context.Context, identity string, window time.Duration, threshold int) (Detection, error) {
	if e == nil || e.auditStore == nil {
		return Detection{}, ErrEngineNotReady
	}
	if window <= 0 {
		window = e.config.Audit.DetectionWindow
	}
	if threshold <= 0 {
		threshold = e.config.Audit.SuspiciousThreshold
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	d, err := audit.DetectSuspiciousAuth(sctx, e.auditStore, identity, e.now(), window, threshold)
	if err != nil {
		return Detection{}, e.storeFailure("audit.detect_suspicious", err)
	}
	if d.Flagged {
		e.logger.Warn("suspicious authentication activity",
			zap.String("identity", identity), zap.Int("count", d.Count))
	}
	return d, nil
}

// DetectReconnaissance flags ip when it accumulated at least threshold denied accesses
// within window. Zero values fall back to configuration.
func (e *Engine) DetectReconnaissance(ctx context.Context, ip string, window time.Duration, threshold int) (Detection, error) {
	if e == nil || e.auditStore == nil {
		return Detection{}, ErrEngineNotReady
	}
	if window <= 0 {
		window = e.config.Audit.DetectionWindow
	}
	if threshold <= 0 {
		threshold = e.config.Audit.ReconnaissanceThreshold
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	d, err := audit.DetectReconnaissance(sctx, e.auditStore, ip, e.now(), window, threshold)
	if err != nil {
		return Detection{}, e.storeFailure("audit.detect_reconnaissance", err)
	}
	if d.Flagged {
		e.logger.Warn("reconnaissance pattern detected", zap.String("ip", ip), zap.Int("count", d.Count))
	}
	return d, nil
}

// PruneEvents deletes events older than the retention period.
func (e *Engine) PruneEvents(ctx context.Context) (int, error) {
	if e == nil || e.auditStore == nil {
		return 0, ErrEngineNotReady
	}
	if e.config.Audit.Retention <= 0 {
		return 0, nil
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	n, err := e.auditStore.Prune(sctx, e.now().Add(-e.config.Audit.Retention))
	if err != nil {
		return 0, e.storeFailure("audit.prune", err)
	}
	return n, nil
}
