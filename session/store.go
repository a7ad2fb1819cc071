package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned (wrapped) for every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRotationCollision is returned when a freshly minted token id already exists.
var ErrRotationCollision = errors.New("session rotation collision")

// renewLua is shared by the validate and renew scripts. rec holds
// uid, fp, ip, uah, created from HMGET. The user index key is built from rec[1]
// inside the script, so these scripts need a single-node Redis.
const renewLua = `
local function renew(key, next_key, user_key, old_id, new_id, now, max_age, rotate, rec)
  local expires = now + max_age
  if rotate then
    if redis.call("EXISTS", next_key) == 1 then
      return {7, rec[1], old_id, tonumber(rec[5]) or 0, 0}
    end
    redis.call("HSET", next_key,
      "uid", rec[1], "fp", rec[2], "ip", rec[3], "uah", rec[4],
      "created", now, "expires", expires, "active", now)
    redis.call("PEXPIRE", next_key, max_age)
    redis.call("DEL", key)
    redis.call("SREM", user_key, old_id)
    redis.call("SADD", user_key, new_id)
    return {5, rec[1], new_id, now, expires}
  end
  redis.call("HSET", key, "expires", expires, "active", now)
  redis.call("PEXPIRE", key, max_age)
  return {6, rec[1], old_id, tonumber(rec[5]) or 0, expires}
end
`

// validateSessionLua checks, touches and (past the renewal threshold) renews one
// session in a single step, so validation and rotation of a token never interleave.
var validateSessionLua = redis.NewScript(renewLua + `
local key = KEYS[1]
local next_key = KEYS[2]
local user_prefix = ARGV[1]
local old_id = ARGV[2]
local new_id = ARGV[3]
local now = tonumber(ARGV[4])
local idle = tonumber(ARGV[5])
local renew_after = tonumber(ARGV[6])
local max_age = tonumber(ARGV[7])
local rotate = ARGV[8] == "1"
local fp = ARGV[9]
local ip = ARGV[10]
local uah = ARGV[11]
local enforce_ua = ARGV[12] == "1"

local rec = redis.call("HMGET", key, "uid", "fp", "ip", "uah", "created", "expires", "active")
if not rec[1] then
  return {0, "", "", 0, 0, 0, 0}
end

local user_key = user_prefix .. rec[1]
local function drop(status)
  redis.call("DEL", key)
  redis.call("SREM", user_key, old_id)
  return {status, rec[1], "", 0, 0, 0, 0}
end

local created = tonumber(rec[5]) or 0
local expires = tonumber(rec[6]) or 0
local active = tonumber(rec[7]) or 0

if expires <= now then
  return drop(1)
end
if idle > 0 and now - active > idle then
  return drop(2)
end
if rec[2] ~= fp then
  return drop(3)
end

local ua_changed = 0
if rec[4] ~= uah then
  if enforce_ua then
    return drop(3)
  end
  ua_changed = 1
end
local ip_changed = 0
if rec[3] ~= ip then
  ip_changed = 1
end

local out = nil
if renew_after > 0 and now - created > renew_after then
  out = renew(key, next_key, user_key, old_id, new_id, now, max_age, rotate, rec)
end
if out == nil or out[1] == 7 then
  redis.call("HSET", key, "active", now)
  out = {4, rec[1], old_id, created, expires}
end
out[6] = ip_changed
out[7] = ua_changed
return out
`)

var renewSessionLua = redis.NewScript(renewLua + `
local key = KEYS[1]
local next_key = KEYS[2]
local user_prefix = ARGV[1]
local old_id = ARGV[2]
local new_id = ARGV[3]
local now = tonumber(ARGV[4])
local max_age = tonumber(ARGV[5])
local rotate = ARGV[6] == "1"

local rec = redis.call("HMGET", key, "uid", "fp", "ip", "uah", "created", "expires")
if not rec[1] then
  return {0, "", "", 0, 0}
end
local user_key = user_prefix .. rec[1]
if (tonumber(rec[6]) or 0) <= now then
  redis.call("DEL", key)
  redis.call("SREM", user_key, old_id)
  return {1, rec[1], "", 0, 0}
end
return renew(key, next_key, user_key, old_id, new_id, now, max_age, rotate, rec)
`)

var deleteSessionLua = redis.NewScript(`
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. uid, ARGV[2])
return 1
`)

var deleteAllForUserLua = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  if id ~= ARGV[2] then
    removed = removed + redis.call("DEL", ARGV[1] .. id)
    redis.call("SREM", KEYS[1], id)
  end
end
return removed
`)

// Store is a Redis-backed session store. Each session is a hash keyed by the token
// digest; a per-user set indexes a user's live session ids.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the session key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redis, prefix: prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

func (s *Store) userPrefix() string {
	return "au:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *Store) deviceAnomalyKey(id, kind string) string {
	return "ada:" + id + ":" + kind
}

// Create persists sess. The key expires with the session.
//
//	Performance: 1 MULTI (HSET + PEXPIRE + SADD).
func (s *Store) Create(ctx context.Context, sess *Session, now time.Time) error {
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	key := s.key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"uid", sess.UserID,
			"fp", sess.Fingerprint,
			"ip", sess.SourceIP,
			"uah", sess.UserAgentHash,
			"created", sess.CreatedAt.UnixMilli(),
			"expires", sess.ExpiresAt.UnixMilli(),
			"active", sess.LastActiveAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get reads a session without touching it. A missing session returns redis.Nil.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}
	return decodeSession(id, fields), nil
}

// Validate runs the atomic validate script. Failing sessions are deleted in the same
// step; surviving sessions past RenewAfter are rotated to NextID or extended in place.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Validate(ctx context.Context, in ValidateInput) (Result, error) {
	raw, err := validateSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(in.ID), s.key(in.NextID)},
		s.userPrefix(),
		in.ID,
		in.NextID,
		in.Now.UnixMilli(),
		in.IdleTimeout.Milliseconds(),
		in.RenewAfter.Milliseconds(),
		in.MaxAge.Milliseconds(),
		flag(in.Rotate),
		in.Fingerprint,
		in.IP,
		in.UserAgentHash,
		flag(in.EnforceUserAgent),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return parseResult(raw)
}

// Renew rotates id to nextID (rotate=true) or extends it in place.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Renew(ctx context.Context, id, nextID string, now time.Time, maxAge time.Duration, rotate bool) (Result, error) {
	raw, err := renewSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id), s.key(nextID)},
		s.userPrefix(),
		id,
		nextID,
		now.UnixMilli(),
		maxAge.Milliseconds(),
		flag(rotate),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	res, err := parseResult(raw)
	if err != nil {
		return Result{}, err
	}
	if res.Status == StatusCollision {
		return res, ErrRotationCollision
	}
	return res, nil
}

// Delete removes a session and its index entry. Deleting a missing session is a no-op.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	n, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(id)}, s.userPrefix(), id).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// DeleteAllForUser removes every session of userID except exceptID (may be empty).
// It returns how many live sessions were deleted.
func (s *Store) DeleteAllForUser(ctx context.Context, userID, exceptID string) (int, error) {
	n, err := deleteAllForUserLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.prefix+":", exceptID).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// ListForUser returns the user's live sessions. Index entries whose session is gone are
// skipped, not repaired; the sweeper reclaims them.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, decodeSession(ids[i], fields))
	}
	return out, nil
}

// SweepStats reports what one [Store.Sweep] pass reclaimed.
type SweepStats struct {
	Inactive     int
	StaleIndexes int
}

// Sweep deletes sessions idle longer than idle and drops index entries whose session
// has expired. Expired sessions themselves vanish through their key TTL.
func (s *Store) Sweep(ctx context.Context, now time.Time, idle time.Duration) (SweepStats, error) {
	var stats SweepStats

	iter := s.redis.Scan(ctx, 0, s.userPrefix()+"*", 256).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := s.redis.SMembers(ctx, userKey).Result()
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, id := range ids {
			active, err := s.redis.HGet(ctx, s.key(id), "active").Int64()
			if errors.Is(err, redis.Nil) {
				if err := s.redis.SRem(ctx, userKey, id).Err(); err != nil {
					return stats, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				stats.StaleIndexes++
				continue
			}
			if err != nil {
				return stats, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if idle > 0 && now.UnixMilli()-active > idle.Milliseconds() {
				if _, err := s.Delete(ctx, id); err != nil {
					return stats, err
				}
				stats.Inactive++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return stats, nil
}

// ShouldEmitDeviceAnomaly returns true only for the first anomaly in the window per device/kind.
func (s *Store) ShouldEmitDeviceAnomaly(ctx context.Context, device, kind string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Minute
	}
	key := s.deviceAnomalyKey(device, kind)

	ok, err := s.redis.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseResult(raw []interface{}) (Result, error) {
	if len(raw) < 5 {
		return Result{}, fmt.Errorf("%w: invalid session script response", ErrRedisUnavailable)
	}
	code, ok := raw[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("%w: invalid session script status", ErrRedisUnavailable)
	}
	res := Result{
		Status: Status(code),
		UserID: asString(raw[1]),
		ID:     asString(raw[2]),
	}
	if ms := asInt(raw[3]); ms > 0 {
		res.CreatedAt = time.UnixMilli(ms)
	}
	if ms := asInt(raw[4]); ms > 0 {
		res.ExpiresAt = time.UnixMilli(ms)
	}
	if len(raw) >= 7 {
		res.IPChanged = asInt(raw[5]) == 1
		res.UserAgentChanged = asInt(raw[6]) == 1
	}
	return res, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func decodeSession(id string, fields map[string]string) *Session {
	ms := func(name string) time.Time {
		v, err := strconv.ParseInt(strings.TrimSpace(fields[name]), 10, 64)
		if err != nil || v <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(v)
	}
	return &Session{
		ID:            id,
		UserID:        fields["uid"],
		Fingerprint:   fields["fp"],
		SourceIP:      fields["ip"],
		UserAgentHash: fields["uah"],
		CreatedAt:     ms("created"),
		ExpiresAt:     ms("expires"),
		LastActiveAt:  ms("active"),
	}
}
