package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisStore(t *testing.T, clk *testClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewRedisStore(rdb, WithRedisClock(clk.Now), WithKeyPrefix("test:session:"))
	require.NoError(t, err)
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	t.Parallel()

	runStoreContract(t, func(t *testing.T) storeHarness {
		clk := newTestClock()
		s, mr := newMiniRedisStore(t, clk)
		return storeHarness{
			store: s,
			clock: clk,
			advance: func(d time.Duration) {
				clk.Advance(d)
				mr.FastForward(d)
			},
		}
	})
}

func TestRedisStore_KeyTTL(t *testing.T) {
	t.Parallel()

	clk := newTestClock()
	s, mr := newMiniRedisStore(t, clk)

	rec := newRecord(t, clk, 30*time.Minute)
	require.NoError(t, s.Replace(context.Background(), rec))

	key := "test:session:" + rec.ID
	require.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Minute, mr.TTL(key))
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	t.Parallel()

	clk := newTestClock()
	s, mr := newMiniRedisStore(t, clk)

	rec := newRecord(t, clk, time.Hour)
	require.NoError(t, mr.Set("test:session:"+rec.ID, "{not json"))

	_, err := s.Load(context.Background(), rec.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	clk := newTestClock()
	s, mr := newMiniRedisStore(t, clk)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.Load(ctx, newRecord(t, clk, time.Hour).ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStore_NilClient(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(nil)
	assert.Error(t, err)
}

func TestRedisStore_KeyDigest(t *testing.T) {
	t.Parallel()

	clk := newTestClock()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	signer, err := NewSigner("digest-secret")
	require.NoError(t, err)
	s, err := NewRedisStore(rdb,
		WithRedisClock(clk.Now),
		WithKeyPrefix("test:session:"),
		WithKeyDigest(signer.StorageKey),
	)
	require.NoError(t, err)

	rec := newRecord(t, clk, time.Hour)
	require.NoError(t, s.Replace(context.Background(), rec))

	assert.False(t, mr.Exists("test:session:"+rec.ID), "raw id must not be stored")
	assert.True(t, mr.Exists("test:session:"+signer.StorageKey(rec.ID)))

	got, err := s.Load(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	require.NoError(t, s.Delete(context.Background(), rec.ID))
	assert.Empty(t, mr.Keys())
}
