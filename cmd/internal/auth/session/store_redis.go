package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ssogate:session:"

// RedisStore keeps records as JSON strings with native key expiry.
//
// Replace runs as an optimistic transaction: WATCH the key, check the stored
// version, then SET inside MULTI/EXEC. A concurrent writer aborts the EXEC
// and surfaces as ErrVersionConflict.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	digest func(id string) string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace (default "ssogate:session:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

// WithKeyDigest stores records under digest(id) instead of the raw id.
func WithKeyDigest(digest func(id string) string) RedisOption {
	return func(s *RedisStore) {
		if digest != nil {
			s.digest = digest
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("session: nil redis client")
	}
	s := &RedisStore{rdb: rdb, prefix: defaultRedisPrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) key(id string) string {
	if s.digest != nil {
		return s.prefix + s.digest(id)
	}
	return s.prefix + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, ErrNotFound
	}

	b, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("session: decode record: %w", err)
	}
	if rec.Expired(s.now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *RedisStore) Replace(ctx context.Context, rec Record) error {
	if !rec.valid() {
		return ErrInvalidRecord
	}

	ttl := rec.ExpiresAt.Sub(s.now())
	if rec.ExpiresAt.IsZero() {
		ttl = 0
	} else if ttl <= 0 {
		return fmt.Errorf("%w: %s", ErrExpired, rec.ID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	key := s.key(rec.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var stored int64

		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("session: redis get: %w", err)
		default:
			var prev Record
			if err := json.Unmarshal(cur, &prev); err != nil {
				return fmt.Errorf("session: decode record: %w", err)
			}
			stored = prev.Version
		}

		if rec.Version != stored+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, stored, rec.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write to %s", ErrVersionConflict, rec.ID)
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}
