package dposmemstore

import (
	"context"
	"sync"

	"github.com/gordian-engine/gdpos/dpos/dposstore"
)

type FinalizationStore struct {
	mu sync.RWMutex

	height, roundNumber uint64
}

func NewFinalizationStore() *FinalizationStore {
	return new(FinalizationStore)
}

func (s *FinalizationStore) SaveIrreversibleHeight(_ context.Context, height, roundNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height < s.height {
		return dposstore.IrreversibleHeightRegressionError{Stored: s.height, Candidate: height}
	}
	s.height, s.roundNumber = height, roundNumber
	return nil
}

func (s *FinalizationStore) LoadIrreversibleHeight(_ context.Context) (uint64, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.height, s.roundNumber, nil
}
