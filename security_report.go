package teamguard

import (
	"sort"

	"github.com/MrEthical07/teamguard/internal/security"
)

// SecurityReport is the posture of the running configuration together with findings
// that weaken it.
type SecurityReport = security.Report

// SecurityReport summarizes the effective configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	actions := make([]string, 0, len(cfg.RateLimit.Rules))
	for action, rule := range cfg.RateLimit.Rules {
		if rule.Limit > 0 && rule.Window > 0 {
			actions = append(actions, action)
		}
	}
	sort.Strings(actions)

	return security.BuildReport(security.ReportInput{
		ProductionMode:          cfg.Security.ProductionMode,
		SessionMaxAge:           cfg.Session.MaxAge,
		SessionIdleTimeout:      cfg.Session.IdleTimeout,
		RotateOnRenewal:         cfg.Session.RotateOnRenewal,
		EnforceUserAgentBinding: cfg.DeviceBinding.EnforceUserAgentBinding,
		LockoutEnabled:          cfg.Lockout.Enabled,
		MaxFailedAttempts:       cfg.Lockout.MaxFailedAttempts,
		IPMaxFailedAttempts:     cfg.Lockout.IPMaxFailedAttempts,
		ProgressiveLockout:      cfg.Lockout.ProgressiveLockout,
		CSRFEnabled:             cfg.CSRF.Enabled,
		JWTEnabled:              cfg.JWT.Enabled,
		JWTAccessTTL:            cfg.JWT.AccessTTL,
		JWTLeeway:               cfg.JWT.Leeway,
		PasswordResetEnabled:    cfg.PasswordReset.Enabled,
		StrictResetBinding:      cfg.PasswordReset.BindingPolicy == ResetBindingStrict,
		AuditEnabled:            cfg.Audit.Enabled,
		AuditDropIfFull:         cfg.Audit.DropIfFull,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		},
		RateLimitedActions: actions,
	})
}
