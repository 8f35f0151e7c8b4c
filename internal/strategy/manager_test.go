package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/store/memory"
)

func newTestManager() *Manager {
	tokens := domain.NewTokenRegistry([]domain.Token{
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
	}, map[string][]string{"ETH": {"ether"}})
	return NewManager(memory.NewStrategyStore(), memory.NewOrderStore(), DefaultRegistry(), tokens, discardLogger())
}

func TestManager_Create(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Strategy)
		wantErr bool
	}{
		{name: "valid", mutate: func(*domain.Strategy) {}},
		{name: "alias resolved", mutate: func(s *domain.Strategy) { s.Token = "ether" }},
		{name: "unknown kind", mutate: func(s *domain.Strategy) { s.Kind = "grid" }, wantErr: true},
		{name: "unknown token", mutate: func(s *domain.Strategy) { s.Token = "DOGE" }, wantErr: true},
		{name: "same token", mutate: func(s *domain.Strategy) { s.QuoteToken = "eth" }, wantErr: true},
		{name: "missing wallet", mutate: func(s *domain.Strategy) { s.Wallet = "" }, wantErr: true},
		{name: "bad params", mutate: func(s *domain.Strategy) { s.Params = map[string]float64{ParamLongMA: 2} }, wantErr: true},
		{name: "bad status", mutate: func(s *domain.Strategy) { s.Status = "running" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			s := testStrategy(domain.StrategyMomentum)
			tt.mutate(&s)

			got, err := m.Create(context.Background(), s)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStrategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ETH", got.Token)
			assert.Equal(t, "USDC", got.QuoteToken)
			assert.False(t, got.CreatedAt.IsZero())
		})
	}
}

func TestManager_CreateDefaults(t *testing.T) {
	m := newTestManager()
	s := testStrategy(domain.StrategyMeanReversion)
	s.ID, s.Name, s.Status = "", "", ""

	got, err := m.Create(context.Background(), s)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, got.ID, got.Name)
	assert.Equal(t, domain.StrategyActive, got.Status)
}

func TestManager_PauseResume(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	_, err := m.Create(ctx, testStrategy(domain.StrategyMomentum))
	require.NoError(t, err)

	require.NoError(t, m.Pause(ctx, "s1"))
	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPaused, got.Status)

	require.NoError(t, m.Resume(ctx, "s1"))
	got, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyActive, got.Status)

	assert.ErrorIs(t, m.Pause(ctx, "missing"), domain.ErrNotFound)
	_, err = m.Performance(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_Seed(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	seeds := []domain.Strategy{
		testStrategy(domain.StrategyMomentum),
		{ID: "s2", Kind: domain.StrategyMeanReversion, Wallet: "0xabc", Token: "ETH", QuoteToken: "USDC"},
	}
	require.NoError(t, m.Seed(ctx, seeds))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.Equal(t, "s2", list[1].ID)

	bad := []domain.Strategy{{ID: "s3", Kind: "grid", Wallet: "0xabc", Token: "ETH", QuoteToken: "USDC"}}
	assert.ErrorIs(t, m.Seed(ctx, bad), ErrInvalidStrategy)
}
