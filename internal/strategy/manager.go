package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// ErrInvalidStrategy is wrapped by Create when a definition is rejected.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Manager owns strategy definitions: creation, status changes and the
// performance read model.
type Manager struct {
	strategies domain.StrategyStore
	orders     domain.OrderStore
	registry   *Registry
	tokens     *domain.TokenRegistry
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a Manager. tokens may be nil, in which case token
// symbols are only upper-cased.
func NewManager(
	strategies domain.StrategyStore,
	orders domain.OrderStore,
	registry *Registry,
	tokens *domain.TokenRegistry,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		strategies: strategies,
		orders:     orders,
		registry:   registry,
		tokens:     tokens,
		logger:     logger.With(slog.String("component", "strategy_manager")),
		now:        time.Now,
	}
}

// Create validates s and stores it. An empty id gets a generated one and an
// empty status defaults to active. Re-creating an existing id replaces the
// definition but keeps its creation time.
func (m *Manager) Create(ctx context.Context, s domain.Strategy) (domain.Strategy, error) {
	s, err := m.normalize(s)
	if err != nil {
		return domain.Strategy{}, err
	}

	now := m.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	existing, err := m.strategies.Get(ctx, s.ID)
	switch {
	case err == nil:
		s.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Strategy{}, fmt.Errorf("strategy_manager: get strategy %s: %w", s.ID, err)
	}

	if err := m.strategies.Upsert(ctx, s); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_manager: upsert strategy %s: %w", s.ID, err)
	}
	m.logger.InfoContext(ctx, "strategy saved",
		slog.String("strategy_id", s.ID),
		slog.String("kind", string(s.Kind)),
		slog.String("status", string(s.Status)),
	)
	return s, nil
}

// Seed stores every definition in seeds. A rejected seed fails the whole load.
func (m *Manager) Seed(ctx context.Context, seeds []domain.Strategy) error {
	for _, s := range seeds {
		if _, err := m.Create(ctx, s); err != nil {
			return fmt.Errorf("strategy_manager: seed %q: %w", s.ID, err)
		}
	}
	if len(seeds) > 0 {
		m.logger.InfoContext(ctx, "strategies seeded", slog.Int("count", len(seeds)))
	}
	return nil
}

// Get returns one strategy.
func (m *Manager) Get(ctx context.Context, id string) (domain.Strategy, error) {
	s, err := m.strategies.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_manager: get strategy %s: %w", id, err)
	}
	return s, nil
}

// List returns every strategy ordered by id.
func (m *Manager) List(ctx context.Context) ([]domain.Strategy, error) {
	out, err := m.strategies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy_manager: list strategies: %w", err)
	}
	return out, nil
}

// Pause stops the strategy from producing intents. Its orders still count
// towards performance.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, domain.StrategyPaused)
}

// Resume reactivates a paused strategy.
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, domain.StrategyActive)
}

// Performance recomputes the strategy's metrics from its order log.
func (m *Manager) Performance(ctx context.Context, id string) (domain.Performance, error) {
	s, err := m.strategies.Get(ctx, id)
	if err != nil {
		return domain.Performance{}, fmt.Errorf("strategy_manager: get strategy %s: %w", id, err)
	}
	orders, err := m.orders.ListByOrigin(ctx, domain.StrategyOrigin(id))
	if err != nil {
		return domain.Performance{}, fmt.Errorf("strategy_manager: list orders for %s: %w", id, err)
	}
	return ComputePerformance(s, orders), nil
}

func (m *Manager) setStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	if err := m.strategies.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("strategy_manager: set status %s on %s: %w", status, id, err)
	}
	m.logger.InfoContext(ctx, "strategy status changed",
		slog.String("strategy_id", id),
		slog.String("status", string(status)),
	)
	return nil
}

func (m *Manager) normalize(s domain.Strategy) (domain.Strategy, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	switch s.Status {
	case "":
		s.Status = domain.StrategyActive
	case domain.StrategyActive, domain.StrategyPaused:
	default:
		return s, fmt.Errorf("%w: unknown status %q", ErrInvalidStrategy, s.Status)
	}
	if s.Wallet == "" {
		return s, fmt.Errorf("%w: wallet is required", ErrInvalidStrategy)
	}

	var err error
	if s.Token, err = m.canonical(s.Token); err != nil {
		return s, err
	}
	if s.QuoteToken, err = m.canonical(s.QuoteToken); err != nil {
		return s, err
	}
	if s.Token == s.QuoteToken {
		return s, fmt.Errorf("%w: token and quote_token must differ", ErrInvalidStrategy)
	}

	ev, err := m.registry.Get(s.Kind)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrInvalidStrategy, err)
	}
	if err := ev.Validate(s); err != nil {
		return s, fmt.Errorf("%w: %s: %w", ErrInvalidStrategy, s.Kind, err)
	}
	return s, nil
}

func (m *Manager) canonical(symbol string) (string, error) {
	if symbol == "" {
		return "", fmt.Errorf("%w: token and quote_token are required", ErrInvalidStrategy)
	}
	if m.tokens == nil {
		return strings.ToUpper(symbol), nil
	}
	tok, ok := m.tokens.Lookup(symbol)
	if !ok {
		return "", fmt.Errorf("%w: unknown token %q", ErrInvalidStrategy, symbol)
	}
	return tok.Symbol, nil
}
