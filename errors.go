package teamguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthenticated is returned when no authenticator accepted the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials is returned for a wrong identifier or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a CredentialStore for an unknown identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountLocked is returned while the account or source IP is locked out.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrForbidden is returned when a valid identity lacks the required role.
	ErrForbidden = errors.New("forbidden")

	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrSessionInactive       = errors.New("session inactive")
	ErrFingerprintMismatch   = errors.New("session fingerprint mismatch")
	ErrSessionCreationFailed = errors.New("session creation failed")

	ErrBearerInvalid = errors.New("invalid bearer token")

	ErrCSRFMissing  = errors.New("csrf token missing")
	ErrCSRFMismatch = errors.New("csrf token mismatch")

	// ErrPasswordResetRequestFailed is the single generic failure of a reset request,
	// whatever the cause.
	ErrPasswordResetRequestFailed = errors.New("password reset request could not be processed")
	ErrPasswordResetInvalid       = errors.New("password reset token invalid")
	ErrPasswordResetDisabled      = errors.New("password reset disabled")
	ErrPasswordPolicy             = errors.New("password policy violation")

	ErrRequestRejected = errors.New("request rejected")

	// ErrStoreUnavailable wraps backend failures and timeouts. It always fails closed.
	ErrStoreUnavailable = errors.New("security store unavailable")
	ErrEngineNotReady   = errors.New("engine not initialized")
)

// RateLimitError reports which action class was exceeded and when to retry.
type RateLimitError struct {
	Action     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Action, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ErrorKind classifies errors for the HTTP boundary.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindAccountLocked
	KindValidation
	KindInfrastructure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuthentication:
		return "authentication_failure"
	case KindAuthorization:
		return "authorization_failure"
	case KindRateLimit:
		return "rate_limit_exceeded"
	case KindAccountLocked:
		return "account_locked"
	case KindValidation:
		return "validation_failure"
	default:
		return "infrastructure_failure"
	}
}

// KindOf classifies err. Unrecognized errors are infrastructure failures.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrEngineNotReady):
		return KindInfrastructure
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrAccountLocked):
		return KindAccountLocked
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrCSRFMissing),
		errors.Is(err, ErrCSRFMismatch):
		return KindAuthorization
	case errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, ErrPasswordResetRequestFailed),
		errors.Is(err, ErrPasswordResetDisabled),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrRequestRejected):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionInactive),
		errors.Is(err, ErrFingerprintMismatch),
		errors.Is(err, ErrBearerInvalid):
		return KindAuthentication
	default:
		return KindInfrastructure
	}
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindNone:
		return http.StatusOK
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAccountLocked:
		return http.StatusLocked
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the generic client-facing text for kind. It never carries the cause.
func PublicMessage(kind ErrorKind) string {
	switch kind {
	case KindAuthentication:
		return "authentication required"
	case KindAuthorization:
		return "forbidden"
	case KindRateLimit:
		return "too many requests"
	case KindAccountLocked:
		return "account temporarily locked"
	case KindValidation:
		return "invalid request"
	default:
		return "internal error"
	}
}

func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
