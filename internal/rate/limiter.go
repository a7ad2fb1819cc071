package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rule is the limit/window pair of one action class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one [Limiter.Check].
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

const keyPrefix = "rl:"

// checkScript trims, records, counts and reports in one round trip.
// Returns {allowed, count, retry_ms, oldest_ms}.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
redis.call("ZADD", key, now, member)
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window)

local oldest = now
local head = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if head[2] then
  oldest = tonumber(head[2])
end

if count <= limit then
  return {1, count, 0, oldest}
end

local retry = window
local pivot = redis.call("ZRANGE", key, count - limit, count - limit, "WITHSCORES")
if pivot[2] then
  retry = tonumber(pivot[2]) + window - now
end
if retry < 1 then
  retry = 1
end
return {0, count, retry, oldest}
`)

// Limiter enforces per-action sliding windows keyed by identity.
type Limiter struct {
	redis redis.UniversalClient
	rules map[string]Rule
	now   func() time.Time
}

// New creates a [Limiter]. A nil clock uses time.Now.
func New(redisClient redis.UniversalClient, rules map[string]Rule, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	copied := make(map[string]Rule, len(rules))
	for action, rule := range rules {
		copied[action] = rule
	}
	return &Limiter{
		redis: redisClient,
		rules: copied,
		now:   now,
	}
}

// Rule returns the configured rule for action.
func (l *Limiter) Rule(action string) (Rule, bool) {
	rule, ok := l.rules[action]
	return rule, ok
}

// Check records one hit for (action, identity). A denial returns the decision together
// with an [*ExceededError].
func (l *Limiter) Check(ctx context.Context, action, identity string) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, Limit: rule.Limit}, nil
	}

	now := l.now()
	nowMS := now.UnixMilli()
	windowMS := rule.Window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())

	res, err := checkScript.Run(ctx, l.redis, []string{key(action, identity)},
		nowMS, windowMS, rule.Limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 4 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	count := int(res[1])
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[3] + windowMS),
	}
	if d.Allowed {
		return d, nil
	}

	d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	return d, &ExceededError{Action: action, RetryAfter: d.RetryAfter}
}

// Reset drops the window for (action, identity).
func (l *Limiter) Reset(ctx context.Context, action, identity string) error {
	if err := l.redis.Del(ctx, key(action, identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sweep trims expired entries from every window and deletes empty ones. Windows carry a
// TTL, so this only reclaims memory early; it returns the number of deleted keys.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	nowMS := l.now().UnixMilli()
	removed := 0

	iter := l.redis.Scan(ctx, 0, keyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		action, _, ok := strings.Cut(strings.TrimPrefix(k, keyPrefix), ":")
		if !ok {
			continue
		}
		rule, ok := l.rules[action]
		if !ok || rule.Window <= 0 {
			continue
		}
		cutoff := nowMS - rule.Window.Milliseconds()
		if err := l.redis.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		n, err := l.redis.ZCard(ctx, k).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if n == 0 {
			if err := l.redis.Del(ctx, k).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

func key(action, identity string) string {
	return keyPrefix + action + ":" + identity
}
