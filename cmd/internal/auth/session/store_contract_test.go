package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssogate/cmd/identity"
	"ssogate/cmd/identity/ids"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeHarness struct {
	store   Store
	clock   *testClock
	advance func(d time.Duration)
}

func newRecord(t *testing.T, clk *testClock, ttl time.Duration) Record {
	t.Helper()
	now := clk.Now()
	return Record{
		ID:        ids.MustULID(now),
		Version:   1,
		User:      &identity.Principal{ID: "u1", Email: "u1@example.com"},
		IDToken:   "idt",
		UserID:    "u1",
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func runStoreContract(t *testing.T, newHarness func(t *testing.T) storeHarness) {
	t.Run("create load replace delete", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		rec := newRecord(t, h.clock, time.Hour)
		require.NoError(t, h.store.Replace(ctx, rec))

		got, err := h.store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "u1", got.UserID)
		require.NotNil(t, got.User)
		assert.Equal(t, "u1@example.com", got.User.Email)

		next := got.Next()
		next.User.Name = "Renamed"
		require.NoError(t, h.store.Replace(ctx, next))

		got, err = h.store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, "Renamed", got.User.Name)

		require.NoError(t, h.store.Delete(ctx, rec.ID))
		_, err = h.store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		rec := newRecord(t, h.clock, time.Hour)
		require.NoError(t, h.store.Replace(ctx, rec))

		a := rec.Next()
		b := rec.Next()
		require.NoError(t, h.store.Replace(ctx, a))
		assert.ErrorIs(t, h.store.Replace(ctx, b), ErrVersionConflict)

		// Re-creating a live id is a conflict too.
		assert.ErrorIs(t, h.store.Replace(ctx, rec), ErrVersionConflict)

		skip := a.Next().Next()
		assert.ErrorIs(t, h.store.Replace(ctx, skip), ErrVersionConflict)
	})

	t.Run("update without create conflicts", func(t *testing.T) {
		h := newHarness(t)
		rec := newRecord(t, h.clock, time.Hour)
		rec.Version = 2
		assert.ErrorIs(t, h.store.Replace(context.Background(), rec), ErrVersionConflict)
	})

	t.Run("invalid records", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		assert.ErrorIs(t, h.store.Replace(ctx, Record{Version: 1}), ErrInvalidRecord)
		assert.ErrorIs(t, h.store.Replace(ctx, Record{ID: "x"}), ErrInvalidRecord)
	})

	t.Run("expiry", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		rec := newRecord(t, h.clock, time.Minute)
		require.NoError(t, h.store.Replace(ctx, rec))

		h.advance(2 * time.Minute)
		_, err := h.store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		late := newRecord(t, h.clock, -time.Second)
		assert.ErrorIs(t, h.store.Replace(ctx, late), ErrExpired)
	})

	t.Run("concurrent replace admits one writer per version", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		rec := newRecord(t, h.clock, time.Hour)
		require.NoError(t, h.store.Replace(ctx, rec))

		var ok, conflict int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := h.store.Replace(ctx, rec.Next())
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case assert.ErrorIs(t, err, ErrVersionConflict):
					atomic.AddInt32(&conflict, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), ok)
		assert.Equal(t, int32(7), conflict)
	})
}
