package teamguard

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/teamguard/internal"
	"github.com/MrEthical07/teamguard/internal/audit"
	"github.com/MrEthical07/teamguard/internal/limiters"
	"github.com/MrEthical07/teamguard/internal/stores"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a reset token for the account behind email.
//
// Every refusal (rate limit, unknown account, locked account) returns the same
// ErrPasswordResetRequestFailed so the response never reveals whether the account
// exists. Backend failures return an error matching ErrStoreUnavailable instead. Both
// are recorded as PASSWORD_RESET_DENIED. The token is returned to the caller for
// out-of-band delivery and only its digest is stored.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string, req RequestInfo) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrPasswordResetDisabled
	}
	ctx, span := e.tracer.Start(ctx, "teamguard.RequestPasswordReset")
	defer span.End()

	email = normalizeIdentifier(email)
	e.metricInc(MetricPasswordResetRequest)

	denied := func(reason, userID string, cause error) {
		e.metricInc(MetricPasswordResetDenied)
		e.emitAudit(ctx, EventPasswordResetDenied, audit.SeverityMedium, userID, req, cause, func() map[string]string {
			return map[string]string{audit.MetaIdentifier: email, "reason": reason}
		})
	}
	deny := func(reason, userID string, cause error) (string, error) {
		denied(reason, userID, cause)
		return "", ErrPasswordResetRequestFailed
	}
	fail := func(op, userID string, cause error) (string, error) {
		err := e.storeFailure(op, cause)
		denied("backend_unavailable", userID, err)
		return "", err
	}

	if email == "" {
		return deny("empty_identifier", "", nil)
	}

	keys := []string{"email:" + email}
	if req.IP != "" {
		keys = append(keys, "ip:"+req.IP)
	}
	for _, key := range keys {
		if _, err := e.CheckRateLimit(ctx, ActionPasswordReset, key, req); err != nil {
			if !errors.Is(err, ErrRateLimited) {
				denied("backend_unavailable", "", err)
				return "", err
			}
			return deny("rate_limited", "", err)
		}
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	user, err := e.credentials.GetUserByIdentifier(sctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return deny("unknown_account", "", err)
		}
		return fail("credentials.lookup", "", err)
	}
	if user.Locked {
		return deny("account_locked", user.UserID, ErrAccountLocked)
	}
	if _, locked, err := e.accountLockout.IsLocked(sctx, limiters.ScopeAccount, email); err != nil || locked {
		if err != nil {
			return fail("lockout.check", user.UserID, err)
		}
		return deny("account_locked", user.UserID, ErrAccountLocked)
	}

	token, err := internal.NewResetToken(e.random, user.UserID, req.IP, req.UserAgent)
	if err != nil {
		denied("token_generation", user.UserID, err)
		return "", err
	}
	now := e.now()
	record := &stores.PasswordResetRecord{
		UserID:        user.UserID,
		IPHash:        internal.HashBindingValue(req.IP),
		UserAgentHash: internal.HashBindingValue(req.UserAgent),
		Fingerprint:   req.DeviceID,
		CreatedAt:     now.UnixMilli(),
		ExpiresAt:     now.Add(e.config.PasswordReset.TokenTTL).UnixMilli(),
	}
	if err := e.resetStore.Save(sctx, internal.HashToken(token), record, now); err != nil {
		return fail("reset.save", user.UserID, err)
	}

	e.emitAudit(ctx, EventPasswordResetRequested, audit.SeverityLow, user.UserID, req, nil, func() map[string]string {
		return map[string]string{audit.MetaIdentifier: email}
	})
	return token, nil
}

// VerifyPasswordReset checks a reset token without consuming it and returns the
// owning user id.
//
// A token presented from a different IP or user agent than the one that requested it
// is audited as PASSWORD_RESET_SUSPICIOUS; under the strict binding policy it is also
// rejected.
func (e *Engine) VerifyPasswordReset(ctx context.Context, token string, req RequestInfo) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrPasswordResetDisabled
	}
	if !internal.WellFormedResetToken(token) {
		return "", e.resetInvalid(ctx, "", req, "malformed")
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	record, err := e.resetStore.Get(sctx, internal.HashToken(token), e.now())
	if err != nil {
		return "", e.resetLookupFailed(ctx, req, err)
	}

	if err := e.checkResetBinding(ctx, record, req); err != nil {
		return "", err
	}
	return record.UserID, nil
}

func (e *Engine) checkResetBinding(ctx context.Context, record *stores.PasswordResetRecord, req RequestInfo) error {
	ipMismatch := record.IPHash != internal.HashBindingValue(req.IP)
	uaMismatch := record.UserAgentHash != internal.HashBindingValue(req.UserAgent)
	if !ipMismatch && !uaMismatch {
		return nil
	}

	strict := e.config.PasswordReset.BindingPolicy == ResetBindingStrict
	severity := audit.SeverityMedium
	if strict {
		severity = audit.SeverityHigh
	}
	e.metricInc(MetricPasswordResetSuspicious)
	e.emitAudit(ctx, EventPasswordResetSuspicious, severity, record.UserID, req, nil, func() map[string]string {
		return map[string]string{
			"ip_mismatch":         strconv.FormatBool(ipMismatch),
			"user_agent_mismatch": strconv.FormatBool(uaMismatch),
			"policy":              string(e.config.PasswordReset.BindingPolicy),
		}
	})
	if strict {
		return ErrPasswordResetInvalid
	}
	return nil
}

func (e *Engine) resetLookupFailed(ctx context.Context, req RequestInfo, err error) error {
	switch {
	case errors.Is(err, stores.ErrResetNotFound):
		return e.resetInvalid(ctx, "", req, "unknown")
	case errors.Is(err, stores.ErrResetExpired):
		return e.resetInvalid(ctx, "", req, "expired")
	case errors.Is(err, stores.ErrResetUsed):
		return e.resetInvalid(ctx, "", req, "used")
	default:
		return e.storeFailure("reset.lookup", err)
	}
}

func (e *Engine) resetInvalid(ctx context.Context, userID string, req RequestInfo, reason string) error {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, EventPasswordResetInvalid, audit.SeverityMedium, userID, req, ErrPasswordResetInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrPasswordResetInvalid
}

// CompletePasswordReset consumes token and replaces the user's password.
//
// The token is single-use: of two concurrent completions exactly one succeeds. If the
// password update fails the token is released and stays usable until it expires. On
// success every session of the user is revoked, other outstanding reset tokens are
// deleted and the account lockout trackers are cleared.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string, req RequestInfo) error {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "teamguard.CompletePasswordReset")
	defer span.End()

	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}
	userID, err := e.VerifyPasswordReset(ctx, token, req)
	if err != nil {
		return err
	}
	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}

	id := internal.HashToken(token)
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	if _, err := e.resetStore.MarkUsed(sctx, id, e.now()); err != nil {
		return e.resetLookupFailed(ctx, req, err)
	}
	if err := e.credentials.UpdatePasswordHash(sctx, userID, hash); err != nil {
		rctx, rcancel := e.storeContext(context.WithoutCancel(ctx))
		if rerr := e.resetStore.Release(rctx, id); rerr != nil {
			e.logger.Error("release reset token after failed update", zap.String("user_id", userID), zap.Error(rerr))
		}
		rcancel()
		return e.storeFailure("credentials.update_password", err)
	}

	if _, err := e.resetStore.DeleteForUser(sctx, userID, id); err != nil {
		e.logger.Warn("delete outstanding reset tokens", zap.String("user_id", userID), zap.Error(err))
	}
	revoked, err := e.sessionStore.DeleteAllForUser(sctx, userID, "")
	if err != nil {
		return e.storeFailure("session.delete_all", err)
	}
	if user, err := e.credentials.GetUserByID(sctx, userID); err == nil {
		if err := e.clearLockouts(sctx, user); err != nil {
			e.logger.Warn("clear lockout after reset", zap.String("user_id", userID), zap.Error(err))
		}
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, EventPasswordResetCompleted, audit.SeverityMedium, userID, req, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return nil
}
