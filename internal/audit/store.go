package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable wraps event store backend failures.
	ErrStoreUnavailable = errors.New("audit store unavailable")
)

// Filter selects events. Zero fields match everything. Subject matches the user id or
// the login identifier metadata.
type Filter struct {
	UserID  string
	Subject string
	IP      string
	Types   []string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Match reports whether event satisfies every set field of f.
func (f Filter) Match(event Event) bool {
	if f.UserID != "" && event.UserID != f.UserID {
		return false
	}
	if f.Subject != "" && event.UserID != f.Subject && event.Metadata[MetaIdentifier] != f.Subject {
		return false
	}
	if f.IP != "" && event.IP != f.IP {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && event.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Store persists events and answers filtered, newest-first queries.
type Store interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

const (
	keyAll     = "aev:all"
	keyIndexes = "aev:idx"
	pageSize   = 500
)

// RedisStore keeps events in sorted sets scored by unix milliseconds: one global set
// plus per-subject and per-IP index sets.
type RedisStore struct {
	redis redis.UniversalClient
}

func NewRedisStore(redisClient redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func subjectKey(subject string) string { return "aev:s:" + subject }
func ipKey(ip string) string { return "aev:ip:" + ip }

// Append writes event to the global set and every matching index atomically.
func (s *RedisStore) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	member := redis.Z{Score: float64(event.Timestamp.UnixMilli()), Member: string(data)}

	var indexes []string
	for _, subject := range event.Subjects() {
		indexes = append(indexes, subjectKey(subject))
	}
	if event.IP != "" {
		indexes = append(indexes, ipKey(event.IP))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyAll, member)
		for _, k := range indexes {
			pipe.ZAdd(ctx, k, member)
			pipe.SAdd(ctx, keyIndexes, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Query pages newest-first through the narrowest index and filters in memory.
func (s *RedisStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	key := keyAll
	switch {
	case filter.Subject != "":
		key = subjectKey(filter.Subject)
	case filter.UserID != "":
		key = subjectKey(filter.UserID)
	case filter.IP != "":
		key = ipKey(filter.IP)
	}

	hi := "+inf"
	if !filter.Until.IsZero() {
		hi = strconv.FormatInt(filter.Until.UnixMilli(), 10)
	}
	lo := "-inf"
	if !filter.Since.IsZero() {
		lo = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}

	var out []Event
	for offset := int64(0); ; offset += pageSize {
		page, err := s.redis.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
			Max:    hi,
			Min:    lo,
			Offset: offset,
			Count:  pageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, raw := range page {
			var event Event
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				continue
			}
			if !filter.Match(event) {
				continue
			}
			out = append(out, event)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// Prune removes events older than before from every set and drops emptied indexes.
// It returns the number of events removed from the global set.
func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	cutoff := "(" + strconv.FormatInt(before.UnixMilli(), 10)

	removed, err := s.redis.ZRemRangeByScore(ctx, keyAll, "-inf", cutoff).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	indexes, err := s.redis.SMembers(ctx, keyIndexes).Result()
	if err != nil {
		return int(removed), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, k := range indexes {
		if err := s.redis.ZRemRangeByScore(ctx, k, "-inf", cutoff).Err(); err != nil {
			return int(removed), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		n, err := s.redis.ZCard(ctx, k).Result()
		if err != nil {
			return int(removed), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if n == 0 {
			if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, k)
				pipe.SRem(ctx, keyIndexes, k)
				return nil
			}); err != nil {
				return int(removed), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
	}
	return int(removed), nil
}
