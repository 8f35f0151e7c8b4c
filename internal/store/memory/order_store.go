// Package memory provides in-process implementations of the domain stores,
// used by the memory store driver and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// OrderStore is an in-memory implementation of domain.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Order
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{data: make(map[string]*domain.Order)}
}

// Create inserts order unless its id exists.
func (s *OrderStore) Create(_ context.Context, order domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("memory: create order: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[order.ID]; exists {
		return domain.ErrAlreadyExists
	}
	c := copyOrder(order)
	s.data[order.ID] = &c
	return nil
}

// Get returns a copy of the order.
func (s *OrderStore) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return copyOrder(*o), nil
}

// UpdateState performs a compare-and-set on the order state.
func (s *OrderStore) UpdateState(_ context.Context, id string, from, to domain.OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.State != from {
		return domain.ErrStateConflict
	}
	o.State = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendAttempt adds an attempt to the order's history.
func (s *OrderStore) AppendAttempt(_ context.Context, id string, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Attempts = append(o.Attempts, attempt)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Finalize writes the terminal fields if the order is still in state from.
func (s *OrderStore) Finalize(_ context.Context, id string, from domain.OrderState, final domain.OrderFinal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.State != from {
		return domain.ErrStateConflict
	}
	at := final.FinalizedAt
	o.State = final.State
	o.FailureReason = final.FailureReason
	o.QuotedAmountOut = final.QuotedAmountOut
	o.AmountOutActual = final.AmountOutActual
	o.ExecutionPrice = final.ExecutionPrice
	o.Simulated = final.Simulated
	o.FinalizedAt = &at
	o.UpdatedAt = at
	return nil
}

// ListByOrigin returns every order whose intent origin matches.
func (s *OrderStore) ListByOrigin(_ context.Context, origin string) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool { return o.Intent.Origin == origin }), nil
}

// ListByWallet returns the wallet's orders, newest first.
func (s *OrderStore) ListByWallet(_ context.Context, wallet string, opts domain.ListOpts) ([]domain.Order, error) {
	out := s.filter(func(o *domain.Order) bool {
		if !strings.EqualFold(o.Wallet, wallet) {
			return false
		}
		if opts.Since != nil && o.CreatedAt.Before(*opts.Since) {
			return false
		}
		if opts.Until != nil && o.CreatedAt.After(*opts.Until) {
			return false
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// ListByState returns orders in state, oldest first.
func (s *OrderStore) ListByState(_ context.Context, state domain.OrderState) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool { return o.State == state }), nil
}

// ListFinalizedBetween returns orders finalized in [from, to).
func (s *OrderStore) ListFinalizedBetween(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.FinalizedAt != nil && !o.FinalizedAt.Before(from) && o.FinalizedAt.Before(to)
	}), nil
}

// filter returns copies of matching orders sorted by created_at then id.
func (s *OrderStore) filter(match func(*domain.Order) bool) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.data {
		if match(o) {
			out = append(out, copyOrder(*o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func paginate(orders []domain.Order, opts domain.ListOpts) []domain.Order {
	if opts.Offset > 0 {
		if opts.Offset >= len(orders) {
			return nil
		}
		orders = orders[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(orders) {
		orders = orders[:opts.Limit]
	}
	return orders
}

func copyOrder(o domain.Order) domain.Order {
	c := o
	c.Attempts = append([]domain.Attempt(nil), o.Attempts...)
	if o.Intent.MaxSlippageBps != nil {
		v := *o.Intent.MaxSlippageBps
		c.Intent.MaxSlippageBps = &v
	}
	if o.FinalizedAt != nil {
		t := *o.FinalizedAt
		c.FinalizedAt = &t
	}
	return c
}
