package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/teamguard/internal/rate"
	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the failed-attempt lockout tracker.
type LockoutConfig struct {
	Enabled           bool
	MaxFailedAttempts int
	AttemptWindow     time.Duration
	LockoutDuration   time.Duration
	// Progressive doubles the lock for every lockout still remembered by the record,
	// capped at MaxLockoutDuration.
	Progressive        bool
	MaxLockoutDuration time.Duration
}

// Scope separates account and source-IP trackers. They never share a key.
type Scope string

const (
	ScopeAccount Scope = "account"
	ScopeIP      Scope = "ip"
)

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// progressiveLevels bounds the duration table handed to the script.
const progressiveLevels = 16

// AttemptRecord is the decoded tracker state of one identity.
type AttemptRecord struct {
	Scope         Scope
	Identity      string
	Count         int
	WindowStart   time.Time
	Locked        bool
	LockExpiresAt time.Time
	Lockouts      int
}

// recordFailureScript: ARGV = now, window, threshold, ttl, lockDuration[1..n].
// Returns {count, start, locked_until, lockouts, locked_now}.
var recordFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local rec = redis.call("HMGET", key, "count", "start", "locked_until", "lockouts")
local count = tonumber(rec[1]) or 0
local start = tonumber(rec[2]) or 0
local locked_until = tonumber(rec[3]) or 0
local lockouts = tonumber(rec[4]) or 0

if locked_until > now then
  return {count, start, locked_until, lockouts, 0}
end
if locked_until > 0 then
  count = 0
  start = 0
  locked_until = 0
end
if start == 0 or now - start > window then
  count = 0
  start = now
end

count = count + 1
local locked_now = 0
if count >= threshold then
  local levels = #ARGV - 4
  local idx = lockouts + 1
  if idx > levels then
    idx = levels
  end
  locked_until = now + tonumber(ARGV[4 + idx])
  lockouts = lockouts + 1
  locked_now = 1
end

redis.call("HSET", key, "count", count, "start", start, "locked_until", locked_until, "lockouts", lockouts)
local expire = ttl
if locked_until - now + window > expire then
  expire = locked_until - now + window
end
redis.call("PEXPIRE", key, expire)
return {count, start, locked_until, lockouts, locked_now}
`)

// readScript applies lazy expiry and returns {count, start, locked_until, lockouts}.
var readScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local rec = redis.call("HMGET", key, "count", "start", "locked_until", "lockouts")
if not rec[1] then
  return {0, 0, 0, 0}
end
local count = tonumber(rec[1]) or 0
local start = tonumber(rec[2]) or 0
local locked_until = tonumber(rec[3]) or 0
local lockouts = tonumber(rec[4]) or 0

if locked_until > 0 and locked_until <= now then
  count = 0
  start = 0
  locked_until = 0
  redis.call("HSET", key, "count", 0, "start", 0, "locked_until", 0)
elseif locked_until == 0 and start > 0 and now - start > window then
  count = 0
  start = 0
  redis.call("HSET", key, "count", 0, "start", 0)
end
return {count, start, locked_until, lockouts}
`)

var recordSuccessScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "count", 0, "start", 0)
return 1
`)

// LockoutTracker counts failed attempts per scope and identity and locks an identity
// once the threshold is reached inside the attempt window.
type LockoutTracker struct {
	redis  redis.UniversalClient
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutTracker creates a new lockout tracker. A nil clock uses time.Now.
func NewLockoutTracker(redisClient redis.UniversalClient, cfg LockoutConfig, now func() time.Time) *LockoutTracker {
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{redis: redisClient, config: cfg, now: now}
}

func (l *LockoutTracker) key(scope Scope, identity string) string {
	return "alo:" + string(scope) + ":" + identity
}

func (l *LockoutTracker) active(identity string) bool {
	return l != nil && l.config.Enabled && identity != ""
}

// RecordFailure counts one failed attempt. lockedNow is true only for the attempt that
// crossed the threshold.
func (l *LockoutTracker) RecordFailure(ctx context.Context, scope Scope, identity string) (AttemptRecord, bool, error) {
	if !l.active(identity) {
		return AttemptRecord{Scope: scope, Identity: identity}, false, nil
	}

	now := l.now()
	windowMS := l.config.AttemptWindow.Milliseconds()
	args := []interface{}{now.UnixMilli(), windowMS, l.config.MaxFailedAttempts, windowMS}
	args = append(args, l.lockDurations()...)

	res, err := recordFailureScript.Run(ctx, l.redis, []string{l.key(scope, identity)}, args...).Int64Slice()
	if err != nil {
		return AttemptRecord{}, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 5 {
		return AttemptRecord{}, false, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	rec := decodeRecord(scope, identity, res[:4], now)
	return rec, res[4] == 1, nil
}

// IsLocked reports whether identity is locked in scope, clearing an expired lock.
func (l *LockoutTracker) IsLocked(ctx context.Context, scope Scope, identity string) (AttemptRecord, bool, error) {
	if !l.active(identity) {
		return AttemptRecord{Scope: scope, Identity: identity}, false, nil
	}

	now := l.now()
	res, err := readScript.Run(ctx, l.redis, []string{l.key(scope, identity)},
		now.UnixMilli(), l.config.AttemptWindow.Milliseconds()).Int64Slice()
	if err != nil {
		return AttemptRecord{}, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 4 {
		return AttemptRecord{}, false, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	rec := decodeRecord(scope, identity, res, now)
	return rec, rec.Locked, nil
}

// RecordSuccess resets the attempt counter. Lockout history is kept until the record expires.
func (l *LockoutTracker) RecordSuccess(ctx context.Context, scope Scope, identity string) error {
	if !l.active(identity) {
		return nil
	}
	if err := recordSuccessScript.Run(ctx, l.redis, []string{l.key(scope, identity)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Clear removes the record entirely (manual unlock, completed password reset).
func (l *LockoutTracker) Clear(ctx context.Context, scope Scope, identity string) error {
	if !l.active(identity) {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(scope, identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func (l *LockoutTracker) lockDurations() []interface{} {
	if !l.config.Progressive {
		return []interface{}{l.config.LockoutDuration.Milliseconds()}
	}
	out := make([]interface{}, 0, progressiveLevels)
	for i := 0; i < progressiveLevels; i++ {
		out = append(out, rate.Backoff(l.config.LockoutDuration, i, l.config.MaxLockoutDuration, 0).Milliseconds())
	}
	return out
}

func decodeRecord(scope Scope, identity string, res []int64, now time.Time) AttemptRecord {
	rec := AttemptRecord{
		Scope:    scope,
		Identity: identity,
		Count:    int(res[0]),
		Lockouts: int(res[3]),
	}
	if res[1] > 0 {
		rec.WindowStart = time.UnixMilli(res[1])
	}
	if res[2] > 0 {
		rec.LockExpiresAt = time.UnixMilli(res[2])
		rec.Locked = rec.LockExpiresAt.After(now)
	}
	return rec
}
