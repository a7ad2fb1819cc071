package teamguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/teamguard/internal/audit"
	"github.com/MrEthical07/teamguard/internal/limiters"
	"github.com/MrEthical07/teamguard/internal/rate"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AuthOutcome is the verdict of one authenticator in the chain.
type AuthOutcome int

const (
	// AuthContinue passes the request to the next authenticator.
	AuthContinue AuthOutcome = iota
	// AuthAccepted ends the chain with an identity.
	AuthAccepted
	// AuthRejected ends the chain with an error.
	AuthRejected
)

// AuthDecision is what an [Authenticator] returns for one request.
type AuthDecision struct {
	Outcome  AuthOutcome
	Identity Identity
	Renewed  *SessionGrant
	// Reason labels continue and reject outcomes in the AUTH_FAILURE event.
	Reason string
	// Err is returned to the caller on AuthRejected. Defaults to ErrUnauthenticated.
	Err error
}

// Authenticator is one link of the request authentication chain. A non-nil error
// aborts the chain and fails the request closed.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (AuthDecision, error)
}

// Authenticate runs the authenticator chain: the session cookie first, then the bearer
// JWT, then any authenticators added through [Builder.WithAuthenticators]. The first
// acceptance wins. When no authenticator accepts, the failure is audited as
// AUTH_FAILURE unless the request carried no credential at all.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (AuthResult, error) {
	if err := e.ready(); err != nil {
		return AuthResult{}, err
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}()
	ctx, span := e.tracer.Start(ctx, "teamguard.Authenticate")
	defer span.End()

	var reasons []string
	for _, a := range e.authenticators {
		d, err := a.Authenticate(ctx, creds)
		if err != nil {
			span.RecordError(err)
			return AuthResult{}, err
		}
		switch d.Outcome {
		case AuthAccepted:
			span.SetAttributes(
				attribute.String("auth.method", string(d.Identity.Method)),
				attribute.String("user.id", d.Identity.UserID),
			)
			return AuthResult{Identity: d.Identity, RenewedSession: d.Renewed}, nil
		case AuthRejected:
			if d.Reason != "" {
				reasons = append(reasons, d.Reason)
			}
			failure := d.Err
			if failure == nil {
				failure = ErrUnauthenticated
			}
			e.authFailed(ctx, creds.Request, failure, reasons)
			return AuthResult{}, failure
		default:
			if d.Reason != "" {
				reasons = append(reasons, d.Reason)
			}
		}
	}

	if creds.Request.SessionToken != "" || creds.BearerToken != "" {
		e.authFailed(ctx, creds.Request, ErrUnauthenticated, reasons)
	}
	return AuthResult{}, ErrUnauthenticated
}

func (e *Engine) authFailed(ctx context.Context, req RequestInfo, cause error, reasons []string) {
	e.metricInc(MetricAuthFailure)
	e.emitAudit(ctx, EventAuthFailure, audit.SeverityMedium, "", req, cause, func() map[string]string {
		return map[string]string{"reasons": strings.Join(reasons, ",")}
	})
}

type sessionAuthenticator struct {
	engine *Engine
}

func (a sessionAuthenticator) Authenticate(ctx context.Context, creds Credentials) (AuthDecision, error) {
	if creds.Request.SessionToken == "" {
		return AuthDecision{Outcome: AuthContinue}, nil
	}
	v, err := a.engine.ValidateSession(ctx, creds.Request)
	if err != nil {
		return AuthDecision{}, err
	}
	if !v.Valid {
		return AuthDecision{Outcome: AuthContinue, Reason: "session:" + string(v.Reason)}, nil
	}
	return AuthDecision{
		Outcome:  AuthAccepted,
		Identity: Identity{UserID: v.UserID, Method: MethodSession},
		Renewed:  v.Renewed,
	}, nil
}

// bearerAuthenticator verifies HS256 access tokens. Rejected tokens count against the
// source IP lockout tracker.
type bearerAuthenticator struct {
	engine *Engine
}

func (a bearerAuthenticator) Authenticate(ctx context.Context, creds Credentials) (AuthDecision, error) {
	e := a.engine
	if e.jwtManager == nil || creds.BearerToken == "" {
		return AuthDecision{Outcome: AuthContinue}, nil
	}
	ip := creds.Request.IP

	if ip != "" {
		sctx, cancel := e.storeContext(ctx)
		_, locked, err := e.ipLockout.IsLocked(sctx, limiters.ScopeIP, ip)
		cancel()
		if err != nil {
			return AuthDecision{}, e.storeFailure("lockout.check", err)
		}
		if locked {
			return AuthDecision{Outcome: AuthRejected, Reason: "ip_locked", Err: ErrAccountLocked}, nil
		}
	}

	claims, err := e.jwtManager.ParseAccess(creds.BearerToken)
	if err != nil {
		e.metricInc(MetricBearerRejected)
		e.logger.Debug("bearer token rejected", zap.String("ip", ip), zap.Error(err))
		if ip != "" {
			sctx, cancel := e.storeContext(ctx)
			rec, lockedNow, lerr := e.ipLockout.RecordFailure(sctx, limiters.ScopeIP, ip)
			cancel()
			if lerr != nil {
				e.logger.Error("record bearer failure", zap.String("ip", ip), zap.Error(lerr))
			} else if lockedNow {
				e.accountLocked(ctx, "", "", creds.Request, rec)
			}
		}
		return AuthDecision{Outcome: AuthRejected, Reason: "bearer_invalid", Err: ErrBearerInvalid}, nil
	}

	e.metricInc(MetricBearerAccepted)
	return AuthDecision{
		Outcome:  AuthAccepted,
		Identity: Identity{UserID: claims.Identity(), Role: claims.Role, Method: MethodBearer},
	}, nil
}

// CheckRateLimit records one hit of action for identity. A denial returns the decision
// together with a *RateLimitError and is audited as RATE_LIMIT_EXCEEDED.
func (e *Engine) CheckRateLimit(ctx context.Context, action, identity string, req RequestInfo) (RateDecision, error) {
	if e == nil || e.rateLimiter == nil {
		return RateDecision{}, ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	d, err := e.rateLimiter.Check(sctx, action, identity)
	out := RateDecision{
		Allowed:    d.Allowed,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt,
		RetryAfter: d.RetryAfter,
	}
	var exceeded *rate.ExceededError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exceeded):
		e.emitRateLimit(ctx, action, identity, req, exceeded.RetryAfter)
		return out, &RateLimitError{Action: action, Limit: d.Limit, RetryAfter: exceeded.RetryAfter}
	case errors.Is(err, rate.ErrUnknownAction):
		return out, fmt.Errorf("teamguard: %w", err)
	default:
		return out, e.storeFailure("rate.check", err)
	}
}

// Authorize checks that id holds one of roles. The role is looked up in the credential
// store when the identity does not carry one. Denials are audited as ACCESS_DENIED.
func (e *Engine) Authorize(ctx context.Context, id Identity, req RequestInfo, roles ...string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(roles) == 0 {
		return nil
	}

	role := id.Role
	if role == "" && id.UserID != "" {
		sctx, cancel := e.storeContext(ctx)
		user, err := e.credentials.GetUserByID(sctx, id.UserID)
		cancel()
		switch {
		case err == nil:
			role = user.Role
		case !errors.Is(err, ErrUserNotFound):
			return e.storeFailure("credentials.lookup", err)
		}
	}

	for _, r := range roles {
		if role != "" && role == r {
			return nil
		}
	}
	e.AccessDenied(ctx, id.UserID, req, "role", ErrForbidden)
	return ErrForbidden
}

// AccessDenied audits a refused request. Adapters call it for CSRF and pre-check
// rejections; the reconnaissance detector counts these events per IP.
func (e *Engine) AccessDenied(ctx context.Context, userID string, req RequestInfo, reason string, cause error) {
	e.metricInc(MetricAccessDenied)
	e.emitAudit(ctx, EventAccessDenied, audit.SeverityMedium, userID, req, cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

// RejectRequest audits a request refused by the transport pre-check (missing user
// agent, oversized body, unexpected content type, plain HTTP in production) as an
// ACCESS_DENIED event, so the reconnaissance detector counts it, and returns
// ErrRequestRejected.
func (e *Engine) RejectRequest(ctx context.Context, req RequestInfo, reason string) error {
	e.metricInc(MetricRequestRejected)
	e.emitAudit(ctx, EventAccessDenied, audit.SeverityMedium, "", req, ErrRequestRejected, func() map[string]string {
		return map[string]string{"reason": reason, "stage": "precheck"}
	})
	return ErrRequestRejected
}
