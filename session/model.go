package session

import "time"

// Session is the stored state of one browser session.
//
// ID is the sha256 hex digest of the session token; the raw token is never persisted.
type Session struct {
	ID            string
	UserID        string
	Fingerprint   string
	SourceIP      string
	UserAgentHash string

	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActiveAt time.Time
}

// Status is the outcome of an atomic validate or renew script.
type Status int64

const (
	StatusUnknown Status = iota
	StatusExpired
	StatusInactive
	StatusFingerprintMismatch
	StatusValid
	StatusRotated
	StatusExtended
	StatusCollision
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusExpired:
		return "expired"
	case StatusInactive:
		return "inactive"
	case StatusFingerprintMismatch:
		return "fingerprint_mismatch"
	case StatusValid:
		return "valid"
	case StatusRotated:
		return "rotated"
	case StatusExtended:
		return "extended"
	case StatusCollision:
		return "collision"
	default:
		return "invalid"
	}
}

// OK reports whether the session survived the script.
func (s Status) OK() bool {
	return s == StatusValid || s == StatusRotated || s == StatusExtended
}

// ValidateInput parameterizes [Store.Validate].
type ValidateInput struct {
	ID     string
	NextID string
	Now    time.Time

	IdleTimeout time.Duration
	RenewAfter  time.Duration
	MaxAge      time.Duration
	Rotate      bool

	Fingerprint      string
	IP               string
	UserAgentHash    string
	EnforceUserAgent bool
}

// Result carries the script outcome and, for surviving sessions, its new bounds.
type Result struct {
	Status    Status
	UserID    string
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time

	IPChanged        bool
	UserAgentChanged bool
}
