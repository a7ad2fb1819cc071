package teamguard

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/MrEthical07/teamguard/internal/audit"
	"github.com/MrEthical07/teamguard/internal/limiters"
	"github.com/MrEthical07/teamguard/internal/rate"
	"github.com/MrEthical07/teamguard/internal/stores"
	"github.com/MrEthical07/teamguard/jwt"
	"github.com/MrEthical07/teamguard/password"
	"github.com/MrEthical07/teamguard/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/teamguard"

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials    CredentialStore
	hasher         Hasher
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time
	random         io.Reader

	auditStore     audit.Store
	auditSinks     []AuditSink
	authenticators []Authenticator

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the security store client. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the account store. It is required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithHasher overrides the Argon2id hasher built from Config.Password.
func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock injects the time source used by every expiry decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRandom injects the entropy source of tokens, fingerprints and salts.
// Defaults to crypto/rand.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

// WithAuditStore overrides the Redis event store, for example with the Postgres one.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

// WithAuditSinks adds sinks that receive every event next to the event store.
func (b *Builder) WithAuditSinks(sinks ...AuditSink) *Builder {
	for _, s := range sinks {
		if s != nil {
			b.auditSinks = append(b.auditSinks, s)
		}
	}
	return b
}

// WithAuthenticators appends authenticators after the built-in session and bearer
// ones.
func (b *Builder) WithAuthenticators(auths ...Authenticator) *Builder {
	b.authenticators = append(b.authenticators, auths...)
	return b
}

// Build validates the configuration and wires the engine.
//
// Build fails when the Redis client or credential store is missing, when the
// configuration is inconsistent, or when the audit fallback file cannot be opened.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- PASSWORD HASHER --------
	hasher := b.hasher
	if hasher == nil {
		argon, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			Random:      b.random,
		})
		if err != nil {
			return nil, err
		}
		hasher = argon
	}
	dummyHash, err := hasher.Hash("teamguard-timing-equalizer")
	if err != nil {
		return nil, err
	}

	// -------- JWT --------
	var jwtManager *jwt.Manager
	if cfg.JWT.Enabled {
		m, err := jwt.NewManager(jwt.Config{
			AccessTTL: cfg.JWT.AccessTTL,
			Secret:    cfg.JWT.Secret,
			Issuer:    cfg.JWT.Issuer,
			Audience:  cfg.JWT.Audience,
			Leeway:    cfg.JWT.Leeway,
			Now:       now,
		})
		if err != nil {
			return nil, err
		}
		jwtManager = m
	}

	// -------- LIMITERS --------
	rules := make(map[string]rate.Rule, len(cfg.RateLimit.Rules))
	for action, r := range cfg.RateLimit.Rules {
		rules[action] = rate.Rule{Limit: r.Limit, Window: r.Window}
	}
	lockoutCfg := limiters.LockoutConfig{
		Enabled:            cfg.Lockout.Enabled,
		MaxFailedAttempts:  cfg.Lockout.MaxFailedAttempts,
		AttemptWindow:      cfg.Lockout.AttemptWindow,
		LockoutDuration:    cfg.Lockout.LockoutDuration,
		Progressive:        cfg.Lockout.ProgressiveLockout,
		MaxLockoutDuration: cfg.Lockout.MaxLockoutDuration,
	}
	ipLockoutCfg := lockoutCfg
	ipLockoutCfg.Enabled = cfg.Lockout.Enabled && cfg.Lockout.IPMaxFailedAttempts > 0
	ipLockoutCfg.MaxFailedAttempts = cfg.Lockout.IPMaxFailedAttempts

	e := &Engine{
		config:         cfg,
		logger:         logger,
		tracer:         tp.Tracer(tracerName),
		now:            now,
		random:         b.random,
		redis:          b.redis,
		sessionStore:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		rateLimiter:    rate.New(b.redis, rules, now),
		accountLockout: limiters.NewLockoutTracker(b.redis, lockoutCfg, now),
		ipLockout:      limiters.NewLockoutTracker(b.redis, ipLockoutCfg, now),
		resetStore:     stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix),
		credentials:    b.credentials,
		passwordHash:   hasher,
		dummyHash:      dummyHash,
		jwtManager:     jwtManager,
		metrics:        NewMetrics(cfg.Metrics),
	}

	// -------- AUDIT --------
	e.auditStore = b.auditStore
	if e.auditStore == nil {
		e.auditStore = audit.NewRedisStore(b.redis)
	}
	if cfg.Audit.Enabled {
		var fallbackWriter io.Writer = os.Stderr
		if cfg.Audit.FallbackPath != "" {
			f, err := os.OpenFile(cfg.Audit.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, err
			}
			fallbackWriter = f
			e.closers = append(e.closers, f)
		}
		e.auditFallback = audit.NewFallbackSink(e.auditStore, audit.NewJSONWriterSink(fallbackWriter), logger)

		var sink audit.Sink = e.auditFallback
		if len(b.auditSinks) > 0 {
			sink = append(audit.MultiSink{e.auditFallback}, b.auditSinks...)
		}
		e.audit = audit.NewDispatcher(audit.Config{
			Enabled:     true,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			EmitTimeout: cfg.Audit.EmitTimeout,
		}, sink)
	}

	// -------- AUTHENTICATORS --------
	e.authenticators = append([]Authenticator{
		sessionAuthenticator{engine: e},
		bearerAuthenticator{engine: e},
	}, b.authenticators...)

	b.built = true
	return e, nil
}
