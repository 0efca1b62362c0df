package dposstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/stretchr/testify/require"
)

type FinalizationStoreFactory func(cleanup func(func())) (dposstore.FinalizationStore, error)

func TestFinalizationStoreCompliance(t *testing.T, f FinalizationStoreFactory) {
	t.Run("zero when empty", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		h, r, err := s.LoadIrreversibleHeight(ctx)
		require.NoError(t, err)
		require.Zero(t, h)
		require.Zero(t, r)
	})

	t.Run("round trip and advance", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.SaveIrreversibleHeight(ctx, 10, 3))
		h, r, err := s.LoadIrreversibleHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(10), h)
		require.Equal(t, uint64(3), r)

		// Equal height is not a regression.
		require.NoError(t, s.SaveIrreversibleHeight(ctx, 10, 4))
		require.NoError(t, s.SaveIrreversibleHeight(ctx, 25, 5))

		h, r, err = s.LoadIrreversibleHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(25), h)
		require.Equal(t, uint64(5), r)
	})

	t.Run("returns IrreversibleHeightRegressionError on regression", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.SaveIrreversibleHeight(ctx, 10, 3))
		err = s.SaveIrreversibleHeight(ctx, 9, 4)
		require.ErrorIs(t, err, dposstore.IrreversibleHeightRegressionError{Stored: 10, Candidate: 9})

		// Original value unmodified.
		h, r, err := s.LoadIrreversibleHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(10), h)
		require.Equal(t, uint64(3), r)
	})
}
