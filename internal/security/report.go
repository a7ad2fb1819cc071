package security

import "time"

// PasswordReport carries the effective Argon2id parameters.
type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// Report is the security posture derived from a configuration.
type Report struct {
	ProductionMode      bool
	SessionMaxAge       time.Duration
	SessionIdleTimeout  time.Duration
	SessionRotation     bool
	UserAgentBinding    bool
	LockoutActive       bool
	IPLockoutActive     bool
	ProgressiveLockout  bool
	CSRFActive          bool
	BearerActive        bool
	BearerTTL           time.Duration
	PasswordResetActive bool
	StrictResetBinding  bool
	AuditActive         bool
	AuditMayDrop        bool
	Argon2              PasswordReport
	RateLimitedActions  []string
	Findings            []string
}

// ReportInput is the flattened configuration the report is computed from.
type ReportInput struct {
	ProductionMode          bool
	SessionMaxAge           time.Duration
	SessionIdleTimeout      time.Duration
	RotateOnRenewal         bool
	EnforceUserAgentBinding bool
	LockoutEnabled          bool
	MaxFailedAttempts       int
	IPMaxFailedAttempts     int
	ProgressiveLockout      bool
	CSRFEnabled             bool
	JWTEnabled              bool
	JWTAccessTTL            time.Duration
	JWTLeeway               time.Duration
	PasswordResetEnabled    bool
	StrictResetBinding      bool
	AuditEnabled            bool
	AuditDropIfFull         bool
	Password                PasswordReport
	RateLimitedActions      []string
}

// BuildReport derives the posture and lists settings that weaken it.
func BuildReport(input ReportInput) Report {
	r := Report{
		ProductionMode:      input.ProductionMode,
		SessionMaxAge:       input.SessionMaxAge,
		SessionIdleTimeout:  input.SessionIdleTimeout,
		SessionRotation:     input.RotateOnRenewal,
		UserAgentBinding:    input.EnforceUserAgentBinding,
		LockoutActive:       input.LockoutEnabled && input.MaxFailedAttempts > 0,
		IPLockoutActive:     input.LockoutEnabled && input.IPMaxFailedAttempts > 0,
		ProgressiveLockout:  input.LockoutEnabled && input.ProgressiveLockout,
		CSRFActive:          input.CSRFEnabled,
		BearerActive:        input.JWTEnabled,
		PasswordResetActive: input.PasswordResetEnabled,
		StrictResetBinding:  input.PasswordResetEnabled && input.StrictResetBinding,
		AuditActive:         input.AuditEnabled,
		AuditMayDrop:        input.AuditEnabled && input.AuditDropIfFull,
		Argon2:              input.Password,
		RateLimitedActions:  append([]string(nil), input.RateLimitedActions...),
	}
	if input.JWTEnabled {
		r.BearerTTL = input.JWTAccessTTL
	}

	if !input.ProductionMode {
		r.Findings = append(r.Findings, "production mode off: cookies are not Secure and HSTS is not sent")
	}
	if input.SessionIdleTimeout == 0 {
		r.Findings = append(r.Findings, "session idle timeout disabled")
	}
	if !input.RotateOnRenewal {
		r.Findings = append(r.Findings, "session renewal extends tokens in place instead of rotating")
	}
	if !r.LockoutActive {
		r.Findings = append(r.Findings, "account lockout disabled")
	}
	if !input.CSRFEnabled {
		r.Findings = append(r.Findings, "CSRF protection disabled")
	}
	if input.JWTEnabled && input.JWTLeeway > time.Minute {
		r.Findings = append(r.Findings, "JWT leeway above one minute")
	}
	if !input.AuditEnabled {
		r.Findings = append(r.Findings, "audit logging disabled")
	}
	if input.Password.Memory < 64*1024 || input.Password.Time < 2 {
		r.Findings = append(r.Findings, "Argon2id parameters below 64 MiB / t=2")
	}
	return r
}
