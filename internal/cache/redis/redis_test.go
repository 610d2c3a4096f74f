package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests skipped in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisAdapters(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	t.Run("price cache", func(t *testing.T) {
		pc := NewPriceCache(client, time.Minute)
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		_, _, err := pc.GetPrice(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, pc.SetPrice(ctx, "a", 0.97, ts))
		price, got, err := pc.GetPrice(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 0.97, price)
		assert.True(t, ts.Equal(got))

		prices, err := pc.GetPrices(ctx, []string{"a", "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"a": 0.97}, prices)
	})

	t.Run("orderbook cache", func(t *testing.T) {
		oc := NewOrderbookCache(client, time.Minute)
		_, err := oc.GetSnapshot(ctx, "a")
		require.ErrorIs(t, err, domain.ErrNotFound)

		snap := domain.OrderbookSnapshot{
			AssetID:      "a",
			Bids:         []domain.PriceLevel{{Price: 0.95, Size: 10}},
			Asks:         []domain.PriceLevel{{Price: 0.98, Size: 40}, {Price: 0.97, Size: 25}},
			MinOrderSize: 5,
			TickSize:     0.01,
			Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, oc.SetSnapshot(ctx, "a", snap))

		got, err := oc.GetSnapshot(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, snap, got)

		price, size, err := oc.BestAsk(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 0.97, price)
		assert.Equal(t, 25.0, size)
	})

	t.Run("rate limiter", func(t *testing.T) {
		rl := NewRateLimiter(client, 2, time.Minute)
		for i := 0; i < 2; i++ {
			ok, err := rl.Allow(ctx, "venue", 2, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := rl.Allow(ctx, "venue", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		assert.Error(t, rl.Wait(waitCtx, "venue"))
	})

	t.Run("lock", func(t *testing.T) {
		lm := NewLockManager(client)
		unlock, err := lm.Acquire(ctx, "trader", time.Second)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "trader", time.Second)
		require.ErrorIs(t, err, domain.ErrLockHeld)

		require.NoError(t, lm.Refresh(ctx, "trader", 5*time.Second))
		ttl, err := client.rdb.PTTL(ctx, lockKey("trader")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 2*time.Second)

		unlock()
		unlock()
		require.True(t, errors.Is(lm.Refresh(ctx, "trader", time.Second), domain.ErrLockHeld))

		unlock2, err := lm.Acquire(ctx, "trader", time.Second)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("signal bus", func(t *testing.T) {
		sb := NewSignalBus(client, 100)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := sb.Subscribe(subCtx, "events")
		require.NoError(t, err)
		require.NoError(t, sb.Publish(ctx, "events", []byte(`{"type":"opportunity"}`)))

		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"type":"opportunity"}`, string(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}

		require.NoError(t, sb.StreamAppend(ctx, "events:log", []byte("x")))
		n, err := sb.StreamLen(ctx, "events:log")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
