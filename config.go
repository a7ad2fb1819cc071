package teamguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Rate limit action classes. Each carries an independent window and limit.
const (
	ActionLogin         = "login"
	ActionRegistration  = "registration"
	ActionPasswordReset = "password-reset"
	ActionAPI           = "api"
	ActionMessageSend   = "message-send"
	ActionGroupCreate   = "group-create"
)

// Config is the complete engine configuration. Build it from [DefaultConfig], adjust
// it, and hand it to [Builder.WithConfig]. It is treated as immutable after Build.
type Config struct {
	Session       SessionConfig
	DeviceBinding DeviceBindingConfig
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	CSRF          CSRFConfig
	Audit         AuditConfig
	JWT           JWTConfig
	Security      SecurityConfig
	Sweep         SweepConfig
	Metrics       MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and renewal.
type SessionConfig struct {
	CookieName  string
	RedisPrefix string
	// MaxAge is the absolute lifetime of a session token.
	MaxAge time.Duration
	// IdleTimeout ends a session that saw no request for this long. Zero disables it.
	IdleTimeout time.Duration
	// RenewalThreshold is the token age after which validation renews the session.
	RenewalThreshold time.Duration
	// RotateOnRenewal mints a new token on renewal; otherwise expiry is extended in place.
	RotateOnRenewal bool
	SameSite        http.SameSite
}

// DeviceBindingConfig controls how sessions are tied to the client device.
type DeviceBindingConfig struct {
	// DetectIPChange and DetectUserAgentChange emit DEVICE_ANOMALY events without
	// failing the request.
	DetectIPChange        bool
	DetectUserAgentChange bool
	// EnforceUserAgentBinding turns a user-agent change into a fingerprint mismatch.
	EnforceUserAgentBinding bool
	// AnomalyWindow de-duplicates anomaly events per user device and kind.
	AnomalyWindow time.Duration
}

/*
====================================
RATE LIMIT & LOCKOUT CONFIG
====================================
*/

// RateRule is the limit per rolling window of one action class.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig maps action classes to rules. An action without a rule is rejected
// by the limiter.
type RateLimitConfig struct {
	Rules map[string]RateRule
}

// LockoutConfig controls the per-account and per-IP failed-attempt trackers.
type LockoutConfig struct {
	Enabled           bool
	MaxFailedAttempts int
	AttemptWindow     time.Duration
	LockoutDuration   time.Duration
	// ProgressiveLockout doubles the lock for each repeated lockout, up to MaxLockoutDuration.
	ProgressiveLockout bool
	MaxLockoutDuration time.Duration
	// IPMaxFailedAttempts is the threshold of the per-IP tracker. Zero disables it.
	IPMaxFailedAttempts int
}

/*
====================================
PASSWORD & RESET CONFIG
====================================
*/

// PasswordConfig holds the default hasher parameters and the password policy.
type PasswordConfig struct {
	MinLength      int
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// ResetBindingPolicy decides what an IP or user-agent mismatch does to a reset token.
type ResetBindingPolicy string

const (
	// ResetBindingLenient audits the mismatch and accepts the token.
	ResetBindingLenient ResetBindingPolicy = "lenient"
	// ResetBindingStrict rejects the token.
	ResetBindingStrict ResetBindingPolicy = "strict"
)

// PasswordResetConfig controls reset token issuance and verification. Request volume
// is limited by the password-reset rate rule.
type PasswordResetConfig struct {
	Enabled       bool
	TokenTTL      time.Duration
	RedisPrefix   string
	BindingPolicy ResetBindingPolicy
}

/*
====================================
CSRF, AUDIT & JWT CONFIG
====================================
*/

type CSRFConfig struct {
	Enabled    bool
	CookieName string
	HeaderName string
	// MaxAge bounds the lifetime of the token cookie.
	MaxAge time.Duration
}

// AuditConfig controls the async dispatcher, retention and the detectors.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	EmitTimeout time.Duration
	// FallbackPath is the JSON-lines file events go to when the store fails.
	// Empty writes the fallback stream to stderr.
	FallbackPath string
	Retention    time.Duration

	DetectionWindow         time.Duration
	SuspiciousThreshold     int
	ReconnaissanceThreshold int
}

// JWTConfig controls the bearer fallback. The path is off unless Enabled is set.
type JWTConfig struct {
	Enabled   bool
	Secret    []byte
	AccessTTL time.Duration
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

/*
====================================
SECURITY & SWEEP CONFIG
====================================
*/

// SecurityConfig holds request pre-check and backend limits.
type SecurityConfig struct {
	// ProductionMode requires TLS, sets Secure cookies and sends HSTS.
	ProductionMode bool
	// StoreTimeout bounds every backend call. A timeout fails closed.
	StoreTimeout        time.Duration
	MaxBodyBytes        int64
	RequireUserAgent    bool
	AllowedContentTypes []string
	// TrustProxyHeaders reads the client address from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
}

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	Interval time.Duration
}

// MetricsConfig controls the in-process counters behind [Engine.MetricsSnapshot].
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a production-leaning configuration. Set JWT.Secret and
// JWT.Enabled to turn on the bearer path.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			CookieName:       "auth_session",
			RedisPrefix:      "as",
			MaxAge:           24 * time.Hour,
			IdleTimeout:      30 * time.Minute,
			RenewalThreshold: time.Hour,
			RotateOnRenewal:  true,
			SameSite:         http.SameSiteLaxMode,
		},
		DeviceBinding: DeviceBindingConfig{
			DetectIPChange:          true,
			DetectUserAgentChange:   true,
			EnforceUserAgentBinding: false,
			AnomalyWindow:           time.Minute,
		},
		RateLimit: RateLimitConfig{
			Rules: DefaultRateRules(),
		},
		Lockout: LockoutConfig{
			Enabled:             true,
			MaxFailedAttempts:   5,
			AttemptWindow:       10 * time.Minute,
			LockoutDuration:     15 * time.Minute,
			ProgressiveLockout:  false,
			MaxLockoutDuration:  24 * time.Hour,
			IPMaxFailedAttempts: 20,
		},
		Password: PasswordConfig{
			MinLength:      10,
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:       true,
			TokenTTL:      time.Hour,
			RedisPrefix:   "apr",
			BindingPolicy: ResetBindingLenient,
		},
		CSRF: CSRFConfig{
			Enabled:    true,
			CookieName: "csrf_token",
			HeaderName: "X-CSRF-Token",
			MaxAge:     12 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:                 true,
			BufferSize:              1024,
			DropIfFull:              true,
			EmitTimeout:             2 * time.Second,
			Retention:               90 * 24 * time.Hour,
			DetectionWindow:         15 * time.Minute,
			SuspiciousThreshold:     10,
			ReconnaissanceThreshold: 20,
		},
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Issuer:    "teamguard",
			Leeway:    30 * time.Second,
		},
		Security: SecurityConfig{
			ProductionMode:      true,
			StoreTimeout:        2 * time.Second,
			MaxBodyBytes:        1 << 20,
			RequireUserAgent:    true,
			AllowedContentTypes: []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"},
		},
		Sweep: SweepConfig{
			Interval: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// DefaultRateRules returns the stock limits of every action class.
func DefaultRateRules() map[string]RateRule {
	return map[string]RateRule{
		ActionLogin:         {Limit: 10, Window: 15 * time.Minute},
		ActionRegistration:  {Limit: 3, Window: time.Hour},
		ActionPasswordReset: {Limit: 3, Window: 24 * time.Hour},
		ActionAPI:           {Limit: 100, Window: time.Minute},
		ActionMessageSend:   {Limit: 30, Window: time.Minute},
		ActionGroupCreate:   {Limit: 10, Window: time.Hour},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	if cfg.RateLimit.Rules != nil {
		out.RateLimit.Rules = make(map[string]RateRule, len(cfg.RateLimit.Rules))
		for k, v := range cfg.RateLimit.Rules {
			out.RateLimit.Rules[k] = v
		}
	}
	out.Security.AllowedContentTypes = append([]string(nil), cfg.Security.AllowedContentTypes...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.CookieName == "" {
		return errors.New("Session CookieName is required")
	}
	if c.Session.MaxAge <= 0 {
		return errors.New("Session MaxAge must be > 0")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("Session IdleTimeout must be >= 0")
	}
	if c.Session.RenewalThreshold <= 0 || c.Session.RenewalThreshold >= c.Session.MaxAge {
		return errors.New("Session RenewalThreshold must be > 0 and < MaxAge")
	}

	// Device binding
	if c.DeviceBinding.AnomalyWindow < 0 {
		return errors.New("DeviceBinding AnomalyWindow must be >= 0")
	}

	// Rate limits
	for _, action := range []string{ActionLogin, ActionPasswordReset, ActionAPI} {
		rule, ok := c.RateLimit.Rules[action]
		if !ok {
			return fmt.Errorf("RateLimit rule %q is required", action)
		}
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("RateLimit rule %q must have Limit > 0 and Window > 0", action)
		}
	}
	for action, rule := range c.RateLimit.Rules {
		if rule.Limit < 0 || rule.Window < 0 {
			return fmt.Errorf("RateLimit rule %q must not be negative", action)
		}
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.MaxFailedAttempts <= 0 {
			return errors.New("Lockout MaxFailedAttempts must be > 0")
		}
		if c.Lockout.AttemptWindow <= 0 {
			return errors.New("Lockout AttemptWindow must be > 0")
		}
		if c.Lockout.LockoutDuration <= 0 {
			return errors.New("Lockout LockoutDuration must be > 0")
		}
		if c.Lockout.ProgressiveLockout && c.Lockout.MaxLockoutDuration < c.Lockout.LockoutDuration {
			return errors.New("Lockout MaxLockoutDuration must be >= LockoutDuration")
		}
		if c.Lockout.IPMaxFailedAttempts < 0 {
			return errors.New("Lockout IPMaxFailedAttempts must be >= 0")
		}
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TokenTTL <= 0 {
			return errors.New("PasswordReset TokenTTL must be > 0")
		}
		switch c.PasswordReset.BindingPolicy {
		case ResetBindingLenient, ResetBindingStrict:
		default:
			return errors.New("PasswordReset BindingPolicy must be lenient or strict")
		}
	}

	// CSRF
	if c.CSRF.Enabled && (c.CSRF.CookieName == "" || c.CSRF.HeaderName == "") {
		return errors.New("CSRF CookieName and HeaderName are required")
	}
	if c.CSRF.Enabled && c.CSRF.MaxAge <= 0 {
		return errors.New("CSRF MaxAge must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.Retention < 0 {
		return errors.New("Audit Retention must be >= 0")
	}

	// JWT
	if c.JWT.Enabled {
		if len(c.JWT.Secret) < 32 {
			return errors.New("JWT Secret must be at least 32 bytes")
		}
		if c.JWT.AccessTTL <= 0 {
			return errors.New("JWT AccessTTL must be > 0")
		}
	}

	// Security
	if c.Security.StoreTimeout <= 0 {
		return errors.New("Security StoreTimeout must be > 0")
	}
	if c.Security.MaxBodyBytes < 0 {
		return errors.New("Security MaxBodyBytes must be >= 0")
	}

	if c.Sweep.Interval < 0 {
		return errors.New("Sweep Interval must be >= 0")
	}

	if c.Security.ProductionMode {
		if c.Session.MaxAge > 30*24*time.Hour {
			return errors.New("ProductionMode requires Session MaxAge <= 30d")
		}
		if c.JWT.Enabled && c.JWT.AccessTTL > time.Hour {
			return errors.New("ProductionMode requires JWT AccessTTL <= 1h")
		}
		if c.Password.Memory < 64*1024 || c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB and Time >= 2")
		}
		if !c.Lockout.Enabled {
			return errors.New("ProductionMode requires Lockout Enabled")
		}
	}

	return nil
}
