package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetRecordVersionV1 = 1

	resetFlagUsed = 1 << 0
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetExpired          = errors.New("reset record expired")
	ErrResetUsed             = errors.New("reset record already used")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetRecord is the persisted state of one reset token. Client binding values
// are kept as sha256 digests.
type PasswordResetRecord struct {
	UserID        string
	IPHash        [32]byte
	UserAgentHash [32]byte
	Fingerprint   string
	CreatedAt     int64
	ExpiresAt     int64
	Used          bool
}

// PasswordResetStore persists reset tokens keyed by the token digest, with a per-user
// sorted-set index scored by expiry.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &PasswordResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PasswordResetStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *PasswordResetStore) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save stores record under id and prunes the user's expired index entries.
func (s *PasswordResetStore) Save(ctx context.Context, id string, record *PasswordResetRecord, now time.Time) error {
	ttl := time.UnixMilli(record.ExpiresAt).Sub(now)
	if ttl <= 0 {
		return ErrResetExpired
	}
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}

	userKey := s.userKey(record.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), encoded, ttl)
		pipe.ZAdd(ctx, userKey, redis.Z{Score: float64(record.ExpiresAt), Member: id})
		pipe.ZRemRangeByScore(ctx, userKey, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
		pipe.PExpire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Get returns a live, unused record. An expired record is deleted before
// ErrResetExpired is returned; a used record stays as a tombstone until expiry.
func (s *PasswordResetStore) Get(ctx context.Context, id string, now time.Time) (*PasswordResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	record, err := decodePasswordResetRecord(data)
	if err != nil {
		return nil, err
	}
	if now.UnixMilli() >= record.ExpiresAt {
		if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
		return nil, ErrResetExpired
	}
	if record.Used {
		return nil, ErrResetUsed
	}
	return record, nil
}

// MarkUsed flips the used flag with WATCH/MULTI. Exactly one concurrent caller wins;
// every other caller observes ErrResetUsed.
func (s *PasswordResetStore) MarkUsed(ctx context.Context, id string, now time.Time) (*PasswordResetRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var matched *PasswordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePasswordResetRecord(data)
			if err != nil {
				return err
			}
			if now.UnixMilli() >= record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetExpired
			}
			if record.Used {
				return ErrResetUsed
			}

			record.Used = true
			updated, err := encodePasswordResetRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetExpired), errors.Is(err, ErrResetUsed):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrResetUsed
}

// Release clears the used flag set by MarkUsed so the token can be presented again.
// It is a no-op for records that are gone or were never consumed.
func (s *PasswordResetStore) Release(ctx context.Context, id string) error {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodePasswordResetRecord(data)
			if err != nil {
				return err
			}
			if !record.Used {
				return nil
			}

			record.Used = false
			updated, err := encodePasswordResetRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			return err
		}, key)

		switch {
		case err == redis.TxFailedErr:
			continue
		case errors.Is(err, redis.Nil):
			return nil
		case err != nil:
			return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: release contention", ErrResetRedisUnavailable)
}

// DeleteForUser removes every outstanding token of userID except keepID.
func (s *PasswordResetStore) DeleteForUser(ctx context.Context, userID, keepID string) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	var victims []string
	for _, id := range ids {
		if id != keepID {
			victims = append(victims, id)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range victims {
			pipe.Del(ctx, s.key(id))
			pipe.ZRem(ctx, userKey, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return len(victims), nil
}

// Sweep drops expired entries from every user index and deletes emptied indexes.
func (s *PasswordResetStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	removed := 0

	iter := s.redis.Scan(ctx, 0, s.prefix+"u:*", 256).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		n, err := s.redis.ZRemRangeByScore(ctx, userKey, "-inf", cutoff).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
		removed += int(n)

		left, err := s.redis.ZCard(ctx, userKey).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
		if left == 0 {
			if err := s.redis.Del(ctx, userKey).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return removed, nil
}

func encodePasswordResetRecord(record *PasswordResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	var flags byte
	if record.Used {
		flags |= resetFlagUsed
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, record.UserID); err != nil {
		return nil, err
	}
	buf.Write(record.IPHash[:])
	buf.Write(record.UserAgentHash[:])
	if err := writeShortString(&buf, record.Fingerprint); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodePasswordResetRecord(data []byte) (*PasswordResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &PasswordResetRecord{
		Used: flags&resetFlagUsed != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.UserID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.IPHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.UserAgentHash[:]); err != nil {
		return nil, err
	}
	if record.Fingerprint, err = readShortString(reader); err != nil {
		return nil, err
	}

	return record, nil
}

func writeShortString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("reset record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
