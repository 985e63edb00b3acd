package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return true, errors.New("connection refused")
}

func TestMemoryLimiterBurstThenRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(Policy{PerMinute: 60, Burst: 2}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "tenant-a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "tenant-a")
	require.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "tenant-b")
	require.True(t, ok, "keys have separate buckets")

	now = now.Add(1100 * time.Millisecond)
	ok, _ = l.Allow(ctx, "tenant-a")
	require.True(t, ok, "refilled after a second")
}

func TestCheckFailsClosed(t *testing.T) {
	ctx := context.Background()
	require.Error(t, Check(ctx, nil, "k"))
	require.Error(t, Check(ctx, failingLimiter{}, "k"))
	require.NoError(t, Check(ctx, Unlimited{}, "k"))

	l := NewMemoryLimiter(Policy{PerMinute: 1, Burst: 1})
	require.NoError(t, Check(ctx, l, "k"))
	require.ErrorIs(t, Check(ctx, l, "k"), ErrExceeded)
}

func TestMemoryLimiterCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLimiter(DefaultPolicy).Allow(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

// TestRedisLimiterIntegration requires a running Redis.
func TestRedisLimiterIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	l := NewRedisLimiterWithClient(client, Policy{PerMinute: 60, Burst: 1})
	key := "test-" + time.Now().Format("150405.000000")

	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisLimiterUnreachableFailsClosed(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = client.Close() }()

	err := Check(context.Background(), NewRedisLimiterWithClient(client, DefaultPolicy), "k")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrExceeded)
}
