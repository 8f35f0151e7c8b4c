package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// SnapshotStore keeps the latest snapshot per wallet.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]domain.PortfolioSnapshot
	// saves counts Save calls; tests use it to observe rebuilds.
	saves int
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string]domain.PortfolioSnapshot)}
}

// Save replaces the wallet's snapshot.
func (s *SnapshotStore) Save(_ context.Context, snap domain.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[strings.ToLower(snap.Wallet)] = copySnapshot(snap)
	s.saves++
	return nil
}

// Latest returns the wallet's snapshot.
func (s *SnapshotStore) Latest(_ context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[strings.ToLower(wallet)]
	if !ok {
		return domain.PortfolioSnapshot{}, domain.ErrNotFound
	}
	return copySnapshot(snap), nil
}

// Saves reports how many snapshots have been written.
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func copySnapshot(snap domain.PortfolioSnapshot) domain.PortfolioSnapshot {
	h := make(map[string]domain.Holding, len(snap.Holdings))
	for k, v := range snap.Holdings {
		h[k] = v
	}
	snap.Holdings = h
	return snap
}
