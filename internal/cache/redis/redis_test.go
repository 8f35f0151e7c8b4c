package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// setupTestRedis starts a Redis container and returns a connected client with
// a per-test key prefix.
func setupTestRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{Addr: addr, PoolSize: 4, KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedis(t *testing.T) {
	c := setupTestRedis(t)
	ctx := context.Background()

	t.Run("price cache", func(t *testing.T) {
		pc := NewPriceCache(c, time.Minute)
		ts := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
		require.NoError(t, pc.SetPrice(ctx, "eth", decimal.RequireFromString("3012.55"), ts))

		price, got, err := pc.GetPrice(ctx, "ETH")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("3012.55")))
		assert.Equal(t, ts, got)

		_, _, err = pc.GetPrice(ctx, "DOGE")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		prices, err := pc.GetPrices(ctx, []string{"ETH", "DOGE"})
		require.NoError(t, err)
		assert.Len(t, prices, 1)
		assert.Contains(t, prices, "ETH")
	})

	t.Run("lock is exclusive until released", func(t *testing.T) {
		lm := NewLockManager(c)
		unlock, err := lm.Acquire(ctx, "wallet:0xABC", 10*time.Second)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "wallet:0xabc", 10*time.Second)
		assert.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock()

		again, err := lm.Acquire(ctx, "wallet:0xabc", 10*time.Second)
		require.NoError(t, err)
		again()
	})

	t.Run("lock contention has one winner", func(t *testing.T) {
		lm := NewLockManager(c)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := lm.Acquire(ctx, "contended", 10*time.Second); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("rate limiter", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "0xabc", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := rl.Allow(ctx, "0xabc", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = rl.Allow(ctx, "0xdef", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("event stream", func(t *testing.T) {
		bus := NewSignalBus(c)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		sub, err := bus.Subscribe(subCtx, OrderEventChannel)
		require.NoError(t, err)

		sink := NewEventStream(bus)
		event := domain.OrderEvent{Type: domain.EventOrderConfirmed, OrderID: "o1", Summary: "ok"}
		require.NoError(t, sink.Publish(ctx, event))

		msgs, err := bus.StreamRead(ctx, OrderEventStream, "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		var got domain.OrderEvent
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
		assert.Equal(t, "o1", got.OrderID)

		select {
		case payload := <-sub:
			assert.JSONEq(t, string(msgs[0].Payload), string(payload))
		case <-time.After(5 * time.Second):
			t.Fatal("no pub/sub delivery")
		}

		more, err := bus.StreamRead(ctx, OrderEventStream, msgs[0].ID, 10)
		require.NoError(t, err)
		assert.Empty(t, more)
	})
}
