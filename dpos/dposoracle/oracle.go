package dposoracle

import (
	"context"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
)

// ElectionOracle reports the miners elected for a term.
// Results need not be sorted; round generation orders them.
type ElectionOracle interface {
	GetElectedMiners(ctx context.Context, term uint64) ([]dposconsensus.ElectedMiner, error)
}

// RandomnessOracle supplies the unpredictable seed bound at a block height.
//
// Implementations must return the same seed for a height on every call and every node,
// and must not make it available before the height's block is committed to.
type RandomnessOracle interface {
	RandomSeed(ctx context.Context, height uint64) ([]byte, error)
}
