package teamguard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/teamguard/internal/audit"
	"github.com/MrEthical07/teamguard/internal/limiters"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Login authenticates identifier/password and issues a session.
//
// Order of checks: rate limits on identifier and IP, account and IP lockout, the
// credential lookup, the password. A locked account is rejected before the password is
// looked at, so the correct password does not bypass a lockout. Every failure is
// audited as LOGIN_FAILURE and counted toward lockout; the request that crosses the
// threshold additionally emits ACCOUNT_LOCKED with the attempt count.
func (e *Engine) Login(ctx context.Context, identifier, password string, req RequestInfo) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "teamguard.Login")
	defer span.End()

	identifier = normalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if err := e.loginRateLimit(ctx, identifier, req); err != nil {
		span.SetStatus(codes.Error, "rate limited")
		return nil, err
	}

	if err := e.checkLocked(ctx, identifier, req); err != nil {
		span.SetStatus(codes.Error, "locked")
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	user, err := e.credentials.GetUserByIdentifier(sctx, identifier)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, e.storeFailure("credentials.lookup", err)
		}
		if e.dummyHash != "" {
			_, _ = e.passwordHash.Verify(password, e.dummyHash)
		}
		return nil, e.loginFailed(ctx, identifier, "", req, ErrUserNotFound)
	}
	if user.Locked {
		e.metricInc(MetricLoginLocked)
		e.emitLoginFailure(ctx, identifier, user.UserID, req, ErrAccountLocked, "administrative")
		return nil, ErrAccountLocked
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.Error("password verify failed", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, e.loginFailed(ctx, identifier, user.UserID, req, ErrInvalidCredentials)
	}
	if !ok {
		return nil, e.loginFailed(ctx, identifier, user.UserID, req, ErrInvalidCredentials)
	}

	sctx, cancel = e.storeContext(ctx)
	if err := e.accountLockout.RecordSuccess(sctx, limiters.ScopeAccount, identifier); err != nil {
		e.logger.Warn("lockout reset failed", zap.String("identifier", identifier), zap.Error(err))
	}
	cancel()

	if e.config.Password.UpgradeOnLogin {
		e.maybeRehash(ctx, user, password, req)
	}

	grant, err := e.CreateSession(ctx, user.UserID, req)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	span.SetAttributes(attribute.String("user.id", user.UserID))
	e.emitAudit(ctx, EventLoginSuccess, audit.SeverityLow, user.UserID, req, nil, func() map[string]string {
		return map[string]string{audit.MetaIdentifier: identifier}
	})

	return &LoginResult{
		UserID:  user.UserID,
		Role:    user.Role,
		Session: grant,
	}, nil
}

func (e *Engine) loginRateLimit(ctx context.Context, identifier string, req RequestInfo) error {
	checks := []struct{ scope, key string }{{"identifier", identifier}}
	if req.IP != "" {
		checks = append(checks, struct{ scope, key string }{"ip", "ip:" + req.IP})
	}
	for _, c := range checks {
		if _, err := e.CheckRateLimit(ctx, ActionLogin, c.key, req); err != nil {
			var rl *RateLimitError
			if errors.As(err, &rl) {
				e.emitLoginFailure(ctx, identifier, "", req, err, "rate_limited")
			}
			return err
		}
	}
	return nil
}

// checkLocked rejects identifiers and source IPs under an active lockout.
func (e *Engine) checkLocked(ctx context.Context, identifier string, req RequestInfo) error {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, locked, err := e.accountLockout.IsLocked(sctx, limiters.ScopeAccount, identifier)
	if err != nil {
		return e.storeFailure("lockout.check", err)
	}
	if !locked && req.IP != "" {
		rec, locked, err = e.ipLockout.IsLocked(sctx, limiters.ScopeIP, req.IP)
		if err != nil {
			return e.storeFailure("lockout.check", err)
		}
	}
	if !locked {
		return nil
	}

	e.metricInc(MetricLoginLocked)
	e.emitLoginFailure(ctx, identifier, "", req, ErrAccountLocked, string(rec.Scope)+"_lockout", func(m map[string]string) {
		m["locked_until"] = rec.LockExpiresAt.UTC().Format(time.RFC3339)
	})
	return ErrAccountLocked
}

// loginFailed records one failed attempt on both trackers, audits it, and returns the
// public error.
func (e *Engine) loginFailed(ctx context.Context, identifier, userID string, req RequestInfo, cause error) error {
	e.metricInc(MetricLoginFailure)
	e.emitLoginFailure(ctx, identifier, userID, req, cause, "bad_credentials")

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, lockedNow, err := e.accountLockout.RecordFailure(sctx, limiters.ScopeAccount, identifier)
	if err != nil {
		e.logger.Error("record failed login", zap.String("identifier", identifier), zap.Error(err))
	} else if lockedNow {
		e.accountLocked(ctx, identifier, userID, req, rec)
	}
	if req.IP != "" {
		rec, lockedNow, err = e.ipLockout.RecordFailure(sctx, limiters.ScopeIP, req.IP)
		if err != nil {
			e.logger.Error("record failed login", zap.String("ip", req.IP), zap.Error(err))
		} else if lockedNow {
			e.accountLocked(ctx, identifier, userID, req, rec)
		}
	}
	return ErrInvalidCredentials
}

func (e *Engine) emitLoginFailure(ctx context.Context, identifier, userID string, req RequestInfo, cause error, reason string, extra ...func(map[string]string)) {
	e.emitAudit(ctx, EventLoginFailure, audit.SeverityMedium, userID, req, cause, func() map[string]string {
		m := map[string]string{
			audit.MetaIdentifier: identifier,
			"reason":             reason,
		}
		for _, fn := range extra {
			fn(m)
		}
		return m
	})
}

func (e *Engine) accountLocked(ctx context.Context, identifier, userID string, req RequestInfo, rec limiters.AttemptRecord) {
	e.metricInc(MetricAccountLocked)
	e.logger.Warn("lockout engaged",
		zap.String("scope", string(rec.Scope)),
		zap.String("identity", rec.Identity),
		zap.Int("attempts", rec.Count),
		zap.Time("until", rec.LockExpiresAt),
	)
	e.emitAudit(ctx, EventAccountLocked, audit.SeverityHigh, userID, req, nil, func() map[string]string {
		return map[string]string{
			audit.MetaIdentifier: identifier,
			"scope":              string(rec.Scope),
			"attempts":           strconv.Itoa(rec.Count),
			"lockouts":           strconv.Itoa(rec.Lockouts),
			"locked_until":       rec.LockExpiresAt.UTC().Format(time.RFC3339),
		}
	})
}

// maybeRehash replaces a hash produced with outdated parameters. Failures are logged;
// the login itself already succeeded.
func (e *Engine) maybeRehash(ctx context.Context, user UserRecord, password string, req RequestInfo) {
	up, ok := e.passwordHash.(upgradeableHasher)
	if !ok {
		return
	}
	needs, err := up.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(password)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", user.UserID), zap.Error(err))
		return
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.credentials.UpdatePasswordHash(sctx, user.UserID, hash); err != nil {
		e.logger.Warn("password rehash store failed", zap.String("user_id", user.UserID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, EventPasswordRehashed, audit.SeverityLow, user.UserID, req, nil, nil)
}

// LockAccount sets the administrative lock on userID and revokes its sessions.
func (e *Engine) LockAccount(ctx context.Context, userID string, req RequestInfo) error {
	if err := e.ready(); err != nil {
		return err
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.credentials.SetLocked(sctx, userID, true); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return e.storeFailure("credentials.lock", err)
	}
	if _, err := e.sessionStore.DeleteAllForUser(sctx, userID, ""); err != nil {
		return e.storeFailure("session.delete_all", err)
	}
	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, EventAccountLocked, audit.SeverityHigh, userID, req, nil, func() map[string]string {
		return map[string]string{"scope": "administrative"}
	})
	return nil
}

// UnlockAccount clears the administrative lock and every failed-attempt tracker of
// the account's identifiers.
func (e *Engine) UnlockAccount(ctx context.Context, userID string, req RequestInfo) error {
	if err := e.ready(); err != nil {
		return err
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	user, err := e.credentials.GetUserByID(sctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return e.storeFailure("credentials.lookup", err)
	}
	if err := e.credentials.SetLocked(sctx, userID, false); err != nil {
		return e.storeFailure("credentials.unlock", err)
	}
	if err := e.clearLockouts(sctx, user); err != nil {
		return e.storeFailure("lockout.clear", err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, EventAccountUnlocked, audit.SeverityMedium, userID, req, nil, nil)
	return nil
}

func (e *Engine) clearLockouts(ctx context.Context, user UserRecord) error {
	for _, id := range []string{user.Email, user.Username} {
		id = normalizeIdentifier(id)
		if id == "" {
			continue
		}
		if err := e.accountLockout.Clear(ctx, limiters.ScopeAccount, id); err != nil {
			return err
		}
	}
	return nil
}

// IssueAccessToken mints a bearer JWT for an already authenticated user.
func (e *Engine) IssueAccessToken(userID, role string) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	return e.jwtManager.CreateAccess(userID, role)
}

// HashPassword hashes password with the engine hasher after applying the password
// policy. Registration flows use it to store new credentials.
func (e *Engine) HashPassword(password string) (string, error) {
	if e == nil || e.passwordHash == nil {
		return "", ErrEngineNotReady
	}
	if len(password) < e.config.Password.MinLength {
		return "", ErrPasswordPolicy
	}
	return e.passwordHash.Hash(password)
}
