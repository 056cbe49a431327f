package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// setupTestRedis creates a Redis client for testing.
// Requires Redis on REDIS_ADDR (default localhost:6379).
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestStore(t *testing.T) *EntitlementStore {
	t.Helper()
	cfg := DefaultStoreConfig()
	cfg.KeyPrefix = "test:"
	cfg.Clock = timeutil.NewManualClock(t0.Add(time.Hour))

	s, err := NewEntitlementStore(setupTestRedis(t), cfg)
	require.NoError(t, err)
	return s
}

func TestNewEntitlementStore_NilClient(t *testing.T) {
	_, err := NewEntitlementStore(nil, DefaultStoreConfig())
	assert.Error(t, err)
}

func TestEntitlementKey(t *testing.T) {
	assert.Equal(t, "entitlement:42", EntitlementKey(42))
	assert.Equal(t, "lock:entitlement:42", LockKey(EntitlementKey(42)))
}

func TestDecodeRecord(t *testing.T) {
	r, err := decodeRecord(7, []interface{}{"1717232400000", "-1", int64(1717232400000)})
	require.NoError(t, err)
	assert.Equal(t, t0, r.ActivatedAt)
	assert.Equal(t, entitlement.NoneDelivered, r.LastDeliveredIndex)

	_, err = decodeRecord(7, []interface{}{"x", "0", "0"})
	assert.ErrorIs(t, err, ErrCorruptRecord)

	_, err = decodeRecord(7, []interface{}{nil, "0", "0"})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestEntitlementStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = s.Advance(ctx, 42, 0)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	r, created, err := s.CreateIfAbsent(ctx, 42, t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, t0, r.ActivatedAt)
	assert.Equal(t, entitlement.NoneDelivered, r.LastDeliveredIndex)

	r, created, err = s.CreateIfAbsent(ctx, 42, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, t0, r.ActivatedAt)

	r, err = s.Advance(ctx, 42, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, r.LastDeliveredIndex)

	r, err = s.Advance(ctx, 42, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, r.LastDeliveredIndex, "index must never decrease")

	got, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LastDeliveredIndex)
	assert.Equal(t, t0, got.ActivatedAt)
}

func TestEntitlementStore_Lock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	unlock, err := s.Lock(ctx, 42)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = s.Lock(waitCtx, 42)
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)

	unlock()
	unlock()

	unlock2, err := s.Lock(ctx, 42)
	require.NoError(t, err)
	unlock2()
}

func TestEntitlementStore_ConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, _, err := s.CreateIfAbsent(ctx, 7, t0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _ = s.Advance(ctx, 7, idx)
		}(i)
	}
	wg.Wait()

	r, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 9, r.LastDeliveredIndex)
}
