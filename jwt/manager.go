package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeySize is the smallest accepted HS256 secret, in bytes.
const MinKeySize = 32

var (
	// ErrTokenInvalid is returned for any token that fails parsing or verification.
	ErrTokenInvalid = errors.New("invalid bearer token")
	// ErrSubjectMissing is returned when neither sub nor userId carries a user id.
	ErrSubjectMissing = errors.New("bearer token has no subject")
)

// Config configures HS256 bearer token issuance and verification.
type Config struct {
	AccessTTL time.Duration
	Secret    []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// MaxFutureIAT rejects tokens issued further in the future than this. Zero means 10m.
	MaxFutureIAT time.Duration
	// KeyID is stamped into the kid header. When VerifyKeys is set, tokens are verified
	// against the key named by their kid, which allows secret rotation.
	KeyID      string
	VerifyKeys map[string][]byte
	// Now overrides the clock used for issuance and expiry checks.
	Now func() time.Time
}

// Manager issues and verifies access tokens for machine clients.
type Manager struct {
	config Config
}

// AccessClaims are the bearer token claims. The user id is carried in both sub and
// userId; role is optional.
type AccessClaims struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the user id, preferring sub over userId.
func (c *AccessClaims) Identity() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if len(cfg.Secret) < MinKeySize {
		return nil, fmt.Errorf("hs256 secret must be at least %d bytes", MinKeySize)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinKeySize {
			return nil, fmt.Errorf("verify key %q is shorter than %d bytes", kid, MinKeySize)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess signs a token for userID with an optional role.
func (j *Manager) CreateAccess(userID, role string) (string, error) {
	if userID == "" {
		return "", ErrSubjectMissing
	}
	now := j.config.Now()

	claims := AccessClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.config.Secret)
}

// ParseAccess verifies signature, algorithm, expiry and the configured issuer and
// audience. Every failure wraps ErrTokenInvalid.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
		}
	}
	if claims.Identity() == "" {
		return nil, ErrSubjectMissing
	}

	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(j.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return j.config.Secret, nil
}
