package dposstore

import (
	"context"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
)

// RoundStore persists rounds by number.
//
// Every saved round carries the height of the last block applied to it,
// so that a restarted engine knows which height it expects next.
type RoundStore interface {
	// SaveRound inserts r, or replaces the stored round with the same number,
	// recording height as the last block height applied to r.
	SaveRound(ctx context.Context, r *dposconsensus.Round, height uint64) error

	// LoadRound returns the round with the given number,
	// or a [RoundUnknownError] if there is none.
	LoadRound(ctx context.Context, number uint64) (*dposconsensus.Round, error)

	// LoadLatestRound returns the round with the highest number
	// and the block height saved with it,
	// or [ErrStoreUninitialized] if no round was ever saved.
	LoadLatestRound(ctx context.Context) (r *dposconsensus.Round, height uint64, err error)

	// PruneRoundsBefore deletes every round numbered below number.
	PruneRoundsBefore(ctx context.Context, number uint64) error
}
