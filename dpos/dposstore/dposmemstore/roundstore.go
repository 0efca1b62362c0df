package dposmemstore

import (
	"context"
	"sync"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
)

type RoundStore struct {
	mu sync.RWMutex

	byNumber map[uint64]storedRound
	latest   uint64
}

type storedRound struct {
	r      *dposconsensus.Round
	height uint64
}

func NewRoundStore() *RoundStore {
	return &RoundStore{
		byNumber: make(map[uint64]storedRound),
	}
}

func (s *RoundStore) SaveRound(_ context.Context, r *dposconsensus.Round, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byNumber[r.Number] = storedRound{r: r.Clone(), height: height}
	s.latest = max(s.latest, r.Number)
	return nil
}

func (s *RoundStore) LoadRound(_ context.Context, number uint64) (*dposconsensus.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.byNumber[number]
	if !ok {
		return nil, dposstore.RoundUnknownError{Want: number}
	}
	return sr.r.Clone(), nil
}

func (s *RoundStore) LoadLatestRound(_ context.Context) (*dposconsensus.Round, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.byNumber[s.latest]
	if !ok {
		return nil, 0, dposstore.ErrStoreUninitialized
	}
	return sr.r.Clone(), sr.height, nil
}

func (s *RoundStore) PruneRoundsBefore(_ context.Context, number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := range s.byNumber {
		if n < number {
			delete(s.byNumber, n)
		}
	}
	return nil
}
