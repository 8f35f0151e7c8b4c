package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Registry maps strategy kinds to evaluators. It is safe for concurrent use.
type Registry struct {
	evaluators map[domain.StrategyKind]Evaluator
	mu         sync.RWMutex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[domain.StrategyKind]Evaluator),
	}
}

// DefaultRegistry returns a Registry with every built-in variant.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Momentum{})
	r.Register(MeanReversion{})
	return r
}

// Register adds ev under its kind, replacing any previous evaluator.
func (r *Registry) Register(ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[ev.Kind()] = ev
}

// Get returns the evaluator for kind or an error wrapping ErrUnknownKind.
func (r *Registry) Get(kind domain.StrategyKind) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.evaluators[kind]
	if !ok {
		return nil, fmt.Errorf("strategy kind %q: %w", kind, domain.ErrUnknownKind)
	}
	return ev, nil
}

// Kinds returns every registered kind in sorted order.
func (r *Registry) Kinds() []domain.StrategyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.StrategyKind, 0, len(r.evaluators))
	for k := range r.evaluators {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
