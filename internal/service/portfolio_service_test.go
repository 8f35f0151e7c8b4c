package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/store/memory"
)

func TestPortfolio_RefreshValuesHoldings(t *testing.T) {
	ctx := context.Background()
	snaps := memory.NewSnapshotStore()
	balances := &fakeBalances{balances: map[string]decimal.Decimal{
		"ETH":  decimal.NewFromInt(2),
		"USDC": decimal.NewFromInt(500),
		"DAI":  decimal.Zero,
		"WBTC": decimal.RequireFromString("0.1"),
	}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		"ETH":  decimal.NewFromInt(3000),
		"USDC": decimal.NewFromInt(1),
	}}
	svc := NewPortfolioService(balances, prices, snaps, time.Minute, time.Second, discardLogger())

	snap, err := svc.Refresh(ctx, wallet)
	require.NoError(t, err)
	assert.Len(t, snap.Holdings, 3, "zero balances are omitted")
	assert.True(t, snap.TotalValueUSD.Equal(decimal.NewFromInt(6500)), "got %s", snap.TotalValueUSD)
	assert.True(t, snap.Holdings["WBTC"].ValueUSD.IsZero(), "unpriced holding valued at zero")
	assert.True(t, snap.Balance("WBTC").Equal(decimal.RequireFromString("0.1")))

	stored, err := snaps.Latest(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, snap.AsOf, stored.AsOf)
}

func TestPortfolio_FreshAndStale(t *testing.T) {
	ctx := context.Background()
	balances := &fakeBalances{balances: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(1)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)}}
	svc := NewPortfolioService(balances, prices, memory.NewSnapshotStore(), time.Minute, time.Second, discardLogger())

	empty, err := svc.Snapshot(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, empty.AsOf.IsZero())

	_, err = svc.Fresh(ctx, wallet)
	require.NoError(t, err)
	_, err = svc.Fresh(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, 1, balances.Calls(), "second read is within the staleness window")

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Fresh(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, 2, balances.Calls())
}

func TestPortfolio_RebuildAsync(t *testing.T) {
	balances := &fakeBalances{balances: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(1)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)}}
	snaps := memory.NewSnapshotStore()
	svc := NewPortfolioService(balances, prices, snaps, time.Minute, time.Second, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, <-svc.RebuildAsync(wallet))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, snaps.Saves(), 1)
}

// gatedBalances holds the first Balances call after it has read the chain
// until release is closed.
type gatedBalances struct {
	mu      sync.Mutex
	eth     decimal.Decimal
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBalances) set(eth decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.eth = eth
}

func (g *gatedBalances) Balances(ctx context.Context, _ string) (map[string]decimal.Decimal, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	out := map[string]decimal.Decimal{"ETH": g.eth}
	g.mu.Unlock()
	if first {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func TestPortfolio_RebuildAfterTradeDoesNotJoinEarlierRefresh(t *testing.T) {
	ctx := context.Background()
	balances := &gatedBalances{
		eth:     decimal.NewFromInt(2),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)}}
	snaps := memory.NewSnapshotStore()
	svc := NewPortfolioService(balances, prices, snaps, time.Minute, 5*time.Second, discardLogger())

	refreshed := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, wallet)
		refreshed <- err
	}()
	<-balances.entered

	// The trade confirms while the earlier refresh still holds ETH=2.
	balances.set(decimal.NewFromInt(1))
	rebuilt := svc.RebuildAsync(wallet)
	close(balances.release)

	require.NoError(t, <-refreshed)
	require.NoError(t, <-rebuilt)

	stored, err := snaps.Latest(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, stored.Balance("ETH").Equal(decimal.NewFromInt(1)), "got %s", stored.Balance("ETH"))
	assert.Equal(t, 2, balances.calls)
}

func TestPortfolio_RefreshSharesCallAcrossWalletCase(t *testing.T) {
	ctx := context.Background()
	balances := &gatedBalances{
		eth:     decimal.NewFromInt(1),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)}}
	svc := NewPortfolioService(balances, prices, memory.NewSnapshotStore(), time.Minute, time.Second, discardLogger())

	first := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, strings.ToLower(wallet))
		first <- err
	}()
	<-balances.entered

	second := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, strings.ToUpper(wallet))
		second <- err
	}()
	// Give the second call time to join the in-flight one.
	time.Sleep(50 * time.Millisecond)
	close(balances.release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, 1, balances.calls)
}
