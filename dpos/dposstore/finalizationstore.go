package dposstore

import "context"

// FinalizationStore persists the last irreversible block height.
type FinalizationStore interface {
	// SaveIrreversibleHeight records height as irreversible,
	// as confirmed in the given round.
	// Saving a lower height than the stored one
	// returns an [IrreversibleHeightRegressionError].
	SaveIrreversibleHeight(ctx context.Context, height, roundNumber uint64) error

	// LoadIrreversibleHeight returns the stored height and round number.
	// Both are zero if nothing was ever saved.
	LoadIrreversibleHeight(ctx context.Context) (height, roundNumber uint64, err error)
}
