package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// StrategyStore is an in-memory implementation of domain.StrategyStore.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string]domain.Strategy
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// NewStrategyStore creates an empty strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{data: make(map[string]domain.Strategy)}
}

// Upsert inserts or replaces a strategy, preserving its creation time.
func (s *StrategyStore) Upsert(_ context.Context, st domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.data[st.ID]; ok {
		st.CreatedAt = prev.CreatedAt
	} else if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	s.data[st.ID] = copyStrategy(st)
	return nil
}

// Get returns a strategy by id.
func (s *StrategyStore) Get(_ context.Context, id string) (domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return copyStrategy(st), nil
}

// List returns every strategy sorted by id.
func (s *StrategyStore) List(_ context.Context) ([]domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Strategy, 0, len(s.data))
	for _, st := range s.data {
		out = append(out, copyStrategy(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetStatus changes the status of an existing strategy.
func (s *StrategyStore) SetStatus(_ context.Context, id string, status domain.StrategyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	s.data[id] = st
	return nil
}

func copyStrategy(st domain.Strategy) domain.Strategy {
	if st.Params != nil {
		p := make(map[string]float64, len(st.Params))
		for k, v := range st.Params {
			p[k] = v
		}
		st.Params = p
	}
	return st
}
