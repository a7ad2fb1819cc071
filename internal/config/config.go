// Package config loads the teamguard service configuration from an optional YAML
// file and TEAMGUARD_* environment variables, and maps it onto teamguard.Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/teamguard"
)

type ServiceConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Audit     AuditSettings     `mapstructure:"audit"`
	Security  SecuritySettings  `mapstructure:"security"`
	Session   SessionSettings   `mapstructure:"session"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	Reset     ResetSettings     `mapstructure:"reset"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	// Env is "production" or anything else; it selects the logger encoding.
	Env     string `mapstructure:"env"`
	Addr    string `mapstructure:"addr"`
	BaseURL string `mapstructure:"base_url"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisSettings struct {
	// Addrs must hold exactly one address. The session scripts derive the per-user
	// index key from the stored record, which a cluster cannot route.
	Addrs      []string `mapstructure:"addrs"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	TLSEnabled bool     `mapstructure:"tls_enabled"`
}

type PostgresSettings struct {
	DSN string `mapstructure:"dsn"`
}

type KafkaSettings struct {
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
	ResetTopic string   `mapstructure:"reset_topic"`
}

// AuditSettings.Store is "redis" or "postgres".
type AuditSettings struct {
	Store        string        `mapstructure:"store"`
	FallbackPath string        `mapstructure:"fallback_path"`
	Retention    time.Duration `mapstructure:"retention"`
}

type SecuritySettings struct {
	ProductionMode    bool  `mapstructure:"production_mode"`
	TrustProxyHeaders bool  `mapstructure:"trust_proxy_headers"`
	MaxBodyBytes      int64 `mapstructure:"max_body_bytes"`
}

type SessionSettings struct {
	MaxAge           time.Duration `mapstructure:"max_age"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RenewalThreshold time.Duration `mapstructure:"renewal_threshold"`
	RotateOnRenewal  bool          `mapstructure:"rotate_on_renewal"`
}

type LockoutSettings struct {
	MaxFailedAttempts   int           `mapstructure:"max_failed_attempts"`
	AttemptWindow       time.Duration `mapstructure:"attempt_window"`
	LockoutDuration     time.Duration `mapstructure:"lockout_duration"`
	Progressive         bool          `mapstructure:"progressive"`
	IPMaxFailedAttempts int           `mapstructure:"ip_max_failed_attempts"`
}

type ResetSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	BindingPolicy string        `mapstructure:"binding_policy"`
}

type JWTSettings struct {
	Enabled   bool          `mapstructure:"enabled"`
	Secret    string        `mapstructure:"secret"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

type TelemetrySettings struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Insecure     bool   `mapstructure:"insecure"`
}

// Load reads path (optional) and the environment. Environment variables use the
// TEAMGUARD_ prefix with dots replaced by underscores, e.g. TEAMGUARD_REDIS_ADDRS.
func Load(path string) (*ServiceConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("TEAMGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg ServiceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := teamguard.DefaultConfig()

	v.SetDefault("app.name", "teamguard")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.audit_topic", "teamguard.security-events")
	v.SetDefault("kafka.reset_topic", "teamguard.password-reset")

	v.SetDefault("audit.store", "redis")
	v.SetDefault("audit.fallback_path", "")
	v.SetDefault("audit.retention", def.Audit.Retention.String())

	v.SetDefault("security.production_mode", def.Security.ProductionMode)
	v.SetDefault("security.trust_proxy_headers", false)
	v.SetDefault("security.max_body_bytes", def.Security.MaxBodyBytes)

	v.SetDefault("session.max_age", def.Session.MaxAge.String())
	v.SetDefault("session.idle_timeout", def.Session.IdleTimeout.String())
	v.SetDefault("session.renewal_threshold", def.Session.RenewalThreshold.String())
	v.SetDefault("session.rotate_on_renewal", def.Session.RotateOnRenewal)

	v.SetDefault("lockout.max_failed_attempts", def.Lockout.MaxFailedAttempts)
	v.SetDefault("lockout.attempt_window", def.Lockout.AttemptWindow.String())
	v.SetDefault("lockout.lockout_duration", def.Lockout.LockoutDuration.String())
	v.SetDefault("lockout.progressive", def.Lockout.ProgressiveLockout)
	v.SetDefault("lockout.ip_max_failed_attempts", def.Lockout.IPMaxFailedAttempts)

	v.SetDefault("reset.enabled", def.PasswordReset.Enabled)
	v.SetDefault("reset.token_ttl", def.PasswordReset.TokenTTL.String())
	v.SetDefault("reset.binding_policy", string(def.PasswordReset.BindingPolicy))

	v.SetDefault("jwt.enabled", false)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL.String())
	v.SetDefault("jwt.issuer", def.JWT.Issuer)

	v.SetDefault("argon2.memory", def.Password.Memory)
	v.SetDefault("argon2.iterations", def.Password.Time)
	v.SetDefault("argon2.parallelism", def.Password.Parallelism)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "teamguard")
	v.SetDefault("telemetry.insecure", false)
}

// Engine maps the service settings onto the engine configuration and validates it.
func (c *ServiceConfig) Engine() (teamguard.Config, error) {
	cfg := teamguard.DefaultConfig()

	cfg.Security.ProductionMode = c.Security.ProductionMode
	cfg.Security.TrustProxyHeaders = c.Security.TrustProxyHeaders
	cfg.Security.MaxBodyBytes = c.Security.MaxBodyBytes

	cfg.Session.MaxAge = c.Session.MaxAge
	cfg.Session.IdleTimeout = c.Session.IdleTimeout
	cfg.Session.RenewalThreshold = c.Session.RenewalThreshold
	cfg.Session.RotateOnRenewal = c.Session.RotateOnRenewal

	cfg.Lockout.MaxFailedAttempts = c.Lockout.MaxFailedAttempts
	cfg.Lockout.AttemptWindow = c.Lockout.AttemptWindow
	cfg.Lockout.LockoutDuration = c.Lockout.LockoutDuration
	cfg.Lockout.ProgressiveLockout = c.Lockout.Progressive
	cfg.Lockout.IPMaxFailedAttempts = c.Lockout.IPMaxFailedAttempts

	cfg.PasswordReset.Enabled = c.Reset.Enabled
	cfg.PasswordReset.TokenTTL = c.Reset.TokenTTL
	cfg.PasswordReset.BindingPolicy = teamguard.ResetBindingPolicy(c.Reset.BindingPolicy)

	cfg.JWT.Enabled = c.JWT.Enabled
	cfg.JWT.Secret = []byte(c.JWT.Secret)
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.Issuer = c.JWT.Issuer

	cfg.Password.Memory = c.Argon2.Memory
	cfg.Password.Time = c.Argon2.Iterations
	cfg.Password.Parallelism = c.Argon2.Parallelism

	cfg.Audit.FallbackPath = c.Audit.FallbackPath
	cfg.Audit.Retention = c.Audit.Retention

	switch c.Audit.Store {
	case "redis", "postgres":
	default:
		return teamguard.Config{}, fmt.Errorf("audit.store must be redis or postgres, got %q", c.Audit.Store)
	}
	if len(c.Redis.Addrs) != 1 {
		return teamguard.Config{}, fmt.Errorf("redis.addrs must hold exactly one address, got %d", len(c.Redis.Addrs))
	}
	if c.Audit.Store == "postgres" && c.Postgres.DSN == "" {
		return teamguard.Config{}, errors.New("audit.store=postgres requires postgres.dsn")
	}

	if err := cfg.Validate(); err != nil {
		return teamguard.Config{}, err
	}
	return cfg, nil
}
