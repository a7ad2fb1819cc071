package teamguard

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/MrEthical07/teamguard/fingerprint"
	"github.com/MrEthical07/teamguard/internal"
	"github.com/MrEthical07/teamguard/internal/audit"
	"github.com/MrEthical07/teamguard/session"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// sessionInfoIDLen is how much of the token digest SessionInfo exposes.
const sessionInfoIDLen = 12

// sessionRotationAttempts bounds retries after a rotation target collision.
const sessionRotationAttempts = 3

func signalsOf(req RequestInfo) fingerprint.Signals {
	return fingerprint.Signals{
		UserAgent:      req.UserAgent,
		AcceptLanguage: req.AcceptLanguage,
		AcceptEncoding: req.AcceptEncoding,
	}
}

func userAgentHash(ua string) string {
	return internal.HashToken(ua)
}

// CreateSession issues a new session for userID bound to the requesting device.
//
// The device fingerprint is reused from req.DeviceID when present and well formed,
// otherwise a new one is derived and returned with NewFingerprint set. Only the
// sha256 digest of the returned token is stored.
func (e *Engine) CreateSession(ctx context.Context, userID string, req RequestInfo) (SessionGrant, error) {
	if err := e.ready(); err != nil {
		return SessionGrant{}, err
	}
	if userID == "" {
		return SessionGrant{}, ErrSessionCreationFailed
	}

	token, err := internal.NewToken(e.random, internal.SessionTokenSize)
	if err != nil {
		return SessionGrant{}, errors.Join(ErrSessionCreationFailed, err)
	}
	fp, issued, err := fingerprint.Resolve(e.random, req.DeviceID, signalsOf(req))
	if err != nil {
		return SessionGrant{}, errors.Join(ErrSessionCreationFailed, err)
	}

	now := e.now()
	sess := &session.Session{
		ID:            internal.HashToken(token),
		UserID:        userID,
		Fingerprint:   fp,
		SourceIP:      req.IP,
		UserAgentHash: userAgentHash(req.UserAgent),
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.config.Session.MaxAge),
		LastActiveAt:  now,
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.sessionStore.Create(sctx, sess, now); err != nil {
		return SessionGrant{}, errors.Join(ErrSessionCreationFailed, e.storeFailure("session.create", err))
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, EventSessionCreated, audit.SeverityLow, userID, req, nil, func() map[string]string {
		return map[string]string{"new_device": strconv.FormatBool(issued)}
	})

	return SessionGrant{
		Token:          token,
		Fingerprint:    fp,
		NewFingerprint: issued,
		ExpiresAt:      sess.ExpiresAt,
	}, nil
}

// ValidateSession checks the presented session token and device fingerprint.
//
// Invalid sessions are reported through Reason, not through the error; the error is
// reserved for backend failures, which fail closed. Every failure except a missing
// token is audited. Expired, idle and mismatched sessions are deleted by the same
// atomic step that detects them. Past the renewal threshold the session is renewed,
// and Renewed carries what the cookie must be rewritten with.
func (e *Engine) ValidateSession(ctx context.Context, req RequestInfo) (SessionValidation, error) {
	if err := e.ready(); err != nil {
		return SessionValidation{}, err
	}
	ctx, span := e.tracer.Start(ctx, "teamguard.ValidateSession")
	defer span.End()

	if req.SessionToken == "" {
		return SessionValidation{Reason: ReasonNoToken}, nil
	}
	if !internal.WellFormedToken(req.SessionToken, internal.SessionTokenSize) {
		return e.sessionFailed(ctx, "", req, ReasonUnknownToken), nil
	}

	rotate := e.config.Session.RotateOnRenewal
	var nextToken, nextID string
	if rotate {
		t, err := internal.NewToken(e.random, internal.SessionTokenSize)
		if err != nil {
			return SessionValidation{}, err
		}
		nextToken, nextID = t, internal.HashToken(t)
	}

	now := e.now()
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	res, err := e.sessionStore.Validate(sctx, session.ValidateInput{
		ID:               internal.HashToken(req.SessionToken),
		NextID:           nextID,
		Now:              now,
		IdleTimeout:      e.config.Session.IdleTimeout,
		RenewAfter:       e.config.Session.RenewalThreshold,
		MaxAge:           e.config.Session.MaxAge,
		Rotate:           rotate,
		Fingerprint:      req.DeviceID,
		IP:               req.IP,
		UserAgentHash:    userAgentHash(req.UserAgent),
		EnforceUserAgent: e.config.DeviceBinding.EnforceUserAgentBinding,
	})
	if err != nil {
		span.RecordError(err)
		return SessionValidation{}, e.storeFailure("session.validate", err)
	}
	span.SetAttributes(attribute.String("session.status", res.Status.String()))

	switch res.Status {
	case session.StatusUnknown:
		return e.sessionFailed(ctx, "", req, ReasonUnknownToken), nil
	case session.StatusExpired:
		return e.sessionFailed(ctx, res.UserID, req, ReasonExpired), nil
	case session.StatusInactive:
		return e.sessionFailed(ctx, res.UserID, req, ReasonInactivityTimeout), nil
	case session.StatusFingerprintMismatch:
		return e.sessionFailed(ctx, res.UserID, req, ReasonFingerprintMismatch), nil
	}

	e.metricInc(MetricSessionValidated)
	e.reportDeviceAnomalies(ctx, res, req)

	out := SessionValidation{
		Valid:     true,
		UserID:    res.UserID,
		ExpiresAt: res.ExpiresAt,
	}
	switch res.Status {
	case session.StatusRotated:
		out.Rotated = true
		out.Renewed = &SessionGrant{Token: nextToken, Fingerprint: req.DeviceID, ExpiresAt: res.ExpiresAt}
		e.metricInc(MetricSessionRotated)
		e.emitAudit(ctx, EventSessionRotated, audit.SeverityLow, res.UserID, req, nil, nil)
	case session.StatusExtended:
		out.Renewed = &SessionGrant{Token: req.SessionToken, Fingerprint: req.DeviceID, ExpiresAt: res.ExpiresAt}
	}
	return out, nil
}

func (e *Engine) sessionFailed(ctx context.Context, userID string, req RequestInfo, reason SessionFailure) SessionValidation {
	e.metricInc(MetricSessionInvalid)
	severity := audit.SeverityLow
	if reason == ReasonFingerprintMismatch {
		severity = audit.SeverityHigh
	}
	e.emitAudit(ctx, EventSessionInvalid, severity, userID, req, reason.Err(), func() map[string]string {
		return map[string]string{"reason": string(reason)}
	})
	return SessionValidation{Reason: reason}
}

// reportDeviceAnomalies audits IP and user-agent drift at most once per anomaly window
// per session and kind.
func (e *Engine) reportDeviceAnomalies(ctx context.Context, res session.Result, req RequestInfo) {
	kinds := make([]string, 0, 2)
	if res.IPChanged && e.config.DeviceBinding.DetectIPChange {
		kinds = append(kinds, "ip")
	}
	if res.UserAgentChanged && e.config.DeviceBinding.DetectUserAgentChange {
		kinds = append(kinds, "user_agent")
	}
	// Keyed on the device rather than the session id, which changes on rotation.
	device := res.UserID + ":" + req.DeviceID
	for _, kind := range kinds {
		sctx, cancel := e.storeContext(ctx)
		emit, err := e.sessionStore.ShouldEmitDeviceAnomaly(sctx, device, kind, e.config.DeviceBinding.AnomalyWindow)
		cancel()
		if err != nil {
			e.logger.Warn("device anomaly dedupe failed", zap.String("kind", kind), zap.Error(err))
			emit = true
		}
		if !emit {
			continue
		}
		e.metricInc(MetricDeviceAnomaly)
		e.emitAudit(ctx, EventDeviceAnomaly, audit.SeverityMedium, res.UserID, req, nil, func() map[string]string {
			return map[string]string{"kind": kind}
		})
	}
}

// RotateSession renews the session behind token. With rotation enabled the returned
// grant carries a new token and the old one stops validating in the same step;
// otherwise the expiry is extended in place and the same token is returned.
func (e *Engine) RotateSession(ctx context.Context, token string, req RequestInfo) (SessionGrant, error) {
	if err := e.ready(); err != nil {
		return SessionGrant{}, err
	}
	if !internal.WellFormedToken(token, internal.SessionTokenSize) {
		return SessionGrant{}, ErrSessionNotFound
	}

	rotate := e.config.Session.RotateOnRenewal
	oldID := internal.HashToken(token)
	for attempt := 0; attempt < sessionRotationAttempts; attempt++ {
		next := token
		if rotate {
			t, err := internal.NewToken(e.random, internal.SessionTokenSize)
			if err != nil {
				return SessionGrant{}, err
			}
			next = t
		}

		sctx, cancel := e.storeContext(ctx)
		res, err := e.sessionStore.Renew(sctx, oldID, internal.HashToken(next), e.now(), e.config.Session.MaxAge, rotate)
		cancel()
		if errors.Is(err, session.ErrRotationCollision) {
			continue
		}
		if err != nil {
			return SessionGrant{}, e.storeFailure("session.renew", err)
		}

		switch res.Status {
		case session.StatusRotated, session.StatusExtended:
			if res.Status == session.StatusRotated {
				e.metricInc(MetricSessionRotated)
				e.emitAudit(ctx, EventSessionRotated, audit.SeverityLow, res.UserID, req, nil, nil)
			}
			return SessionGrant{Token: next, Fingerprint: req.DeviceID, ExpiresAt: res.ExpiresAt}, nil
		case session.StatusExpired:
			return SessionGrant{}, ErrSessionExpired
		default:
			return SessionGrant{}, ErrSessionNotFound
		}
	}
	return SessionGrant{}, ErrSessionCreationFailed
}

// InvalidateSession deletes the session behind token. Unknown or empty tokens are a
// no-op.
func (e *Engine) InvalidateSession(ctx context.Context, token string, req RequestInfo) error {
	if err := e.ready(); err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	id := internal.HashToken(token)

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	sess, err := e.sessionStore.Get(sctx, id)
	userID := ""
	if err == nil {
		userID = sess.UserID
	}
	deleted, err := e.sessionStore.Delete(sctx, id)
	if err != nil {
		return e.storeFailure("session.delete", err)
	}
	if deleted {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, EventSessionRevoked, audit.SeverityLow, userID, req, nil, nil)
	}
	return nil
}

// RegenerateSession discards the presented session, if any, and issues a fresh one.
// Call it on every privilege change so a fixated token never survives the change.
func (e *Engine) RegenerateSession(ctx context.Context, userID string, req RequestInfo) (SessionGrant, error) {
	if req.SessionToken != "" {
		if err := e.InvalidateSession(ctx, req.SessionToken, req); err != nil {
			return SessionGrant{}, err
		}
	}
	return e.CreateSession(ctx, userID, req)
}

// InvalidateAllSessions deletes every session of userID except the one behind
// exceptToken (may be empty) and returns how many were removed.
func (e *Engine) InvalidateAllSessions(ctx context.Context, userID, exceptToken string, req RequestInfo) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	exceptID := ""
	if exceptToken != "" {
		exceptID = internal.HashToken(exceptToken)
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	n, err := e.sessionStore.DeleteAllForUser(sctx, userID, exceptID)
	if err != nil {
		return 0, e.storeFailure("session.delete_all", err)
	}

	e.metricInc(MetricSessionsRevokedAll)
	e.emitAudit(ctx, EventSessionsRevoked, audit.SeverityMedium, userID, req, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(n), "kept_current": strconv.FormatBool(exceptID != "")}
	})
	return n, nil
}

// ActiveSessions lists the live sessions of userID, newest activity first. The
// session behind currentToken is marked Current.
func (e *Engine) ActiveSessions(ctx context.Context, userID, currentToken string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	currentID := ""
	if currentToken != "" {
		currentID = internal.HashToken(currentToken)
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	sessions, err := e.sessionStore.ListForUser(sctx, userID)
	if err != nil {
		return nil, e.storeFailure("session.list", err)
	}

	now := e.now()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if !s.ExpiresAt.After(now) {
			continue
		}
		if idle := e.config.Session.IdleTimeout; idle > 0 && now.Sub(s.LastActiveAt) > idle {
			continue
		}
		out = append(out, SessionInfo{
			ID:           s.ID[:sessionInfoIDLen],
			SourceIP:     s.SourceIP,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.ID == currentID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}
