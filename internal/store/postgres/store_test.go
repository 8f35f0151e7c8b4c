package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newOrder(id, wallet, origin string, created time.Time) domain.Order {
	return domain.Order{
		ID:             id,
		IdempotencyKey: "key-" + id,
		Wallet:         wallet,
		Intent: domain.TradeIntent{
			Action:     domain.ActionSwap,
			Wallet:     wallet,
			TokenIn:    "USDC",
			TokenOut:   "ETH",
			Amount:     decimal.RequireFromString("150.5"),
			AmountKind: domain.AmountAbsolute,
			Confidence: 1,
			Origin:     origin,
			CreatedAt:  created,
		},
		State:     domain.OrderStatePending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderStore_Lifecycle(t *testing.T) {
	client := setupTestDB(t)
	store := NewOrderStore(client.Pool())
	ctx := context.Background()

	o := newOrder("o1", "0xAbC", domain.OriginDirect, base)
	o.Intent = o.Intent.WithSlippage(75)
	require.NoError(t, store.Create(ctx, o))
	assert.ErrorIs(t, store.Create(ctx, o), domain.ErrAlreadyExists)

	got, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatePending, got.State)
	assert.True(t, got.Intent.Amount.Equal(o.Intent.Amount))
	assert.Equal(t, 75, got.Intent.SlippageBps())
	assert.Empty(t, got.Attempts)

	require.NoError(t, store.UpdateState(ctx, "o1", domain.OrderStatePending, domain.OrderStateSubmitting))
	assert.ErrorIs(t, store.UpdateState(ctx, "o1", domain.OrderStatePending, domain.OrderStateSubmitting), domain.ErrStateConflict)
	assert.ErrorIs(t, store.UpdateState(ctx, "missing", domain.OrderStatePending, domain.OrderStateSubmitting), domain.ErrNotFound)

	require.NoError(t, store.AppendAttempt(ctx, "o1", domain.Attempt{
		Number: 1, GasPriceGwei: decimal.NewFromInt(45), TxRef: "0xdead", Outcome: domain.AttemptSubmitted, At: base,
	}))
	require.NoError(t, store.AppendAttempt(ctx, "o1", domain.Attempt{
		Number: 2, GasPriceGwei: decimal.RequireFromString("49.5"), Outcome: domain.AttemptRetryable, At: base,
	}))

	fin := base.Add(time.Minute)
	final := domain.OrderFinal{
		State:           domain.OrderStateConfirmed,
		QuotedAmountOut: decimal.RequireFromString("0.05"),
		AmountOutActual: decimal.RequireFromString("0.0498"),
		ExecutionPrice:  decimal.RequireFromString("0.000330897"),
		FinalizedAt:     fin,
	}
	assert.ErrorIs(t, store.Finalize(ctx, "o1", domain.OrderStatePending, final), domain.ErrStateConflict)
	require.NoError(t, store.Finalize(ctx, "o1", domain.OrderStateSubmitting, final))

	got, err = store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateConfirmed, got.State)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, "0xdead", got.LastTxRef())
	assert.True(t, got.Attempts[1].GasPriceGwei.Equal(decimal.RequireFromString("49.5")))
	assert.True(t, got.AmountOutActual.Equal(final.AmountOutActual))
	require.NotNil(t, got.FinalizedAt)
	assert.True(t, got.FinalizedAt.Equal(fin))
}

func TestOrderStore_ConcurrentCreate(t *testing.T) {
	client := setupTestDB(t)
	store := NewOrderStore(client.Pool())
	ctx := context.Background()

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Create(ctx, newOrder("same", "0xabc", domain.OriginDirect, base))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, domain.ErrAlreadyExists):
				dupes++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, dupes)
}

func TestOrderStore_Listings(t *testing.T) {
	client := setupTestDB(t)
	store := NewOrderStore(client.Pool())
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		o := newOrder(id, "0xAAA", domain.StrategyOrigin("s1"), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, o))
	}
	require.NoError(t, store.Create(ctx, newOrder("d", "0xbbb", domain.OriginUserPrompt, base)))
	require.NoError(t, store.Finalize(ctx, "b", domain.OrderStatePending, domain.OrderFinal{
		State: domain.OrderStateFailed, FailureReason: domain.FailureCancelled, FinalizedAt: base.Add(time.Hour),
	}))

	byOrigin, err := store.ListByOrigin(ctx, domain.StrategyOrigin("s1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(byOrigin))

	byWallet, err := store.ListByWallet(ctx, "0xaaa", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(byWallet))

	page2, err := store.ListByWallet(ctx, "0xaaa", domain.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(page2))

	pending, err := store.ListByState(ctx, domain.OrderStatePending)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c", "d"}, ids(pending))

	finalized, err := store.ListFinalizedBetween(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, finalized, "upper bound is exclusive")

	finalized, err = store.ListFinalizedBetween(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(finalized))
	assert.Equal(t, domain.FailureCancelled, finalized[0].FailureReason)
}

func TestStrategyStore(t *testing.T) {
	client := setupTestDB(t)
	store := NewStrategyStore(client.Pool())
	ctx := context.Background()

	s := domain.Strategy{
		ID: "mom-eth", Name: "eth momentum", Kind: domain.StrategyMomentum, Wallet: "0xabc",
		Token: "ETH", QuoteToken: "USDC", Params: map[string]float64{"lookback_period": 10},
		Status: domain.StrategyActive, CreatedAt: base,
	}
	require.NoError(t, store.Upsert(ctx, s))
	require.NoError(t, store.Upsert(ctx, domain.Strategy{
		ID: "a-mr", Name: "mr", Kind: domain.StrategyMeanReversion, Wallet: "0xabc",
		Token: "WBTC", QuoteToken: "USDC", Status: domain.StrategyActive,
	}))

	s.Name = "renamed"
	s.CreatedAt = time.Time{}
	require.NoError(t, store.Upsert(ctx, s))

	got, err := store.Get(ctx, "mom-eth")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 10.0, got.Params["lookback_period"])
	assert.True(t, got.CreatedAt.Equal(base))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-mr", list[0].ID)

	require.NoError(t, store.SetStatus(ctx, "mom-eth", domain.StrategyPaused))
	got, err = store.Get(ctx, "mom-eth")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPaused, got.Status)

	assert.ErrorIs(t, store.SetStatus(ctx, "missing", domain.StrategyPaused), domain.ErrNotFound)
	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotStore(t *testing.T) {
	client := setupTestDB(t)
	store := NewSnapshotStore(client.Pool())
	ctx := context.Background()

	_, err := store.Latest(ctx, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap := domain.PortfolioSnapshot{
		Wallet: "0xABC",
		Holdings: map[string]domain.Holding{
			"ETH": {Balance: decimal.NewFromInt(2), PriceUSD: decimal.NewFromInt(3000), ValueUSD: decimal.NewFromInt(6000)},
		},
		TotalValueUSD: decimal.NewFromInt(6000),
		AsOf:          base,
	}
	require.NoError(t, store.Save(ctx, snap))

	snap.Holdings = map[string]domain.Holding{}
	snap.TotalValueUSD = decimal.Zero
	snap.AsOf = base.Add(time.Minute)
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Latest(ctx, "0xabc")
	require.NoError(t, err)
	assert.Empty(t, got.Holdings)
	assert.True(t, got.TotalValueUSD.IsZero())
	assert.True(t, got.AsOf.Equal(base.Add(time.Minute)))
}

func TestAuditStore(t *testing.T) {
	client := setupTestDB(t)
	store := NewAuditStore(client.Pool())
	ctx := context.Background()

	require.NoError(t, store.Log(ctx, "emergency_stop", map[string]any{"actor": "admin"}))
	require.NoError(t, store.Log(ctx, "resume", map[string]any{"actor": "admin"}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "resume", entries[0].Event)
	assert.Equal(t, "admin", entries[1].Detail["actor"])
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
