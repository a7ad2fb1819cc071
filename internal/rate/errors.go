package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned (wrapped in [*ExceededError]) when a window is full.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownAction is returned for actions without a configured rule.
	ErrUnknownAction = errors.New("unknown rate limit action")
)

// ExceededError reports which action was limited and how long to wait.
type ExceededError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Action, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for any *ExceededError.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimited
}
