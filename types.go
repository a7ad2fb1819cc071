package teamguard

import (
	"context"
	"time"
)

// UserRecord is the credential view of an account returned by a [CredentialStore].
type UserRecord struct {
	UserID       string
	Email        string
	Username     string
	PasswordHash string
	Role         string
	Locked       bool
}

// CredentialStore is the account persistence the engine consumes. Lookups of unknown
// accounts return an error matching [ErrUserNotFound].
//
// The application owns this store; the engine only reads credentials, replaces the
// password hash after a reset or upgrade, and flips the administrative lock flag.
type CredentialStore interface {
	// GetUserByIdentifier resolves an email address or username.
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	SetLocked(ctx context.Context, userID string, locked bool) error
}

// Hasher is the password hashing primitive. The encoded hash carries its own salt.
// Verify must compare in constant time and return (false, nil) for a wrong password.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// upgradeableHasher is implemented by hashers that can flag outdated parameters.
type upgradeableHasher interface {
	NeedsUpgrade(encoded string) (bool, error)
}

// RequestInfo carries the request context every operation needs: client address,
// device signals and the cookies the client presented.
type RequestInfo struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string

	// SessionToken is the auth_session cookie value, if any.
	SessionToken string
	// DeviceID is the device_id cookie value, if any.
	DeviceID string
}

// Credentials are everything a request may authenticate with.
type Credentials struct {
	Request     RequestInfo
	BearerToken string
}

// AuthMethod names the authenticator that accepted a request.
type AuthMethod string

const (
	MethodSession AuthMethod = "session"
	MethodBearer  AuthMethod = "bearer"
)

// Identity is a resolved, authenticated principal.
type Identity struct {
	UserID string
	Role   string
	Method AuthMethod
}

// SessionGrant describes a newly issued session token. When NewFingerprint is set the
// caller must persist Fingerprint in the device cookie.
type SessionGrant struct {
	Token          string
	Fingerprint    string
	NewFingerprint bool
	ExpiresAt      time.Time
}

// SessionFailure is the reason a session failed validation.
type SessionFailure string

const (
	ReasonNone                SessionFailure = ""
	ReasonNoToken             SessionFailure = "no-token"
	ReasonUnknownToken        SessionFailure = "unknown-token"
	ReasonExpired             SessionFailure = "expired"
	ReasonInactivityTimeout   SessionFailure = "inactivity-timeout"
	ReasonFingerprintMismatch SessionFailure = "fingerprint-mismatch"
)

// Err returns the sentinel error for r.
func (r SessionFailure) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonExpired:
		return ErrSessionExpired
	case ReasonInactivityTimeout:
		return ErrSessionInactive
	case ReasonFingerprintMismatch:
		return ErrFingerprintMismatch
	default:
		return ErrSessionNotFound
	}
}

// SessionValidation is the outcome of [Engine.ValidateSession]. Renewed is non-nil when
// validation pushed the expiry out; the cookie must be rewritten from it. Rotated
// reports that Renewed carries a new token and the presented one is dead.
type SessionValidation struct {
	Valid     bool
	UserID    string
	Reason    SessionFailure
	ExpiresAt time.Time
	Renewed   *SessionGrant
	Rotated   bool
}

// SessionInfo is the non-secret view of an active session for account pages.
type SessionInfo struct {
	// ID is a short prefix of the token digest, enough to tell sessions apart.
	ID           string
	SourceIP     string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	Current      bool
}

// AuthResult is returned by [Engine.Authenticate].
type AuthResult struct {
	Identity Identity
	// RenewedSession is set when the session authenticator renewed the token.
	RenewedSession *SessionGrant
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	UserID  string
	Role    string
	Session SessionGrant
}

// RateDecision mirrors the limiter verdict for response headers.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}
