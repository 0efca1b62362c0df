package dposstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/stretchr/testify/require"
)

type RoundStoreFactory func(cleanup func(func())) (dposstore.RoundStore, error)

// TestRoundStoreCompliance ensures the stores from f
// follow all expected properties of a [dposstore.RoundStore].
//
// Saved rounds never carry in values,
// so stores that drop them on encoding are still compliant.
func TestRoundStoreCompliance(t *testing.T, f RoundStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := dposconsensustest.NewEd25519Fixture(3)
		r := minedRound(fx, 4)
		require.NoError(t, s.SaveRound(ctx, r, 40))

		got, err := s.LoadRound(ctx, 4)
		require.NoError(t, err)
		require.Equal(t, r, got)
	})

	t.Run("returns RoundUnknownError for unknown round", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadRound(ctx, 10)
		require.ErrorIs(t, err, dposstore.RoundUnknownError{Want: 10})
	})

	t.Run("returns ErrStoreUninitialized when empty", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, _, err = s.LoadLatestRound(ctx)
		require.ErrorIs(t, err, dposstore.ErrStoreUninitialized)
	})

	t.Run("latest round", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := dposconsensustest.NewEd25519Fixture(3)
		for _, n := range []uint64{2, 5, 3} {
			require.NoError(t, s.SaveRound(ctx, fx.Round(n, 1), n*10))
		}

		got, height, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(5), got.Number)
		require.Equal(t, uint64(50), height)
	})

	t.Run("height follows the latest save", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := dposconsensustest.NewEd25519Fixture(3)
		r := fx.Round(1, 1)
		require.NoError(t, s.SaveRound(ctx, r, 0))

		_, height, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Zero(t, height)

		r.Miners[0].ProducedBlocks = 1
		require.NoError(t, s.SaveRound(ctx, r, 1))

		got, height, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), height)
		require.Equal(t, uint64(1), got.Miners[0].ProducedBlocks)
	})

	t.Run("save overwrites", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := dposconsensustest.NewEd25519Fixture(3)
		require.NoError(t, s.SaveRound(ctx, fx.Round(1, 1), 0))

		r := minedRound(fx, 1)
		require.NoError(t, s.SaveRound(ctx, r, 3))

		got, err := s.LoadRound(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, r, got)
	})

	t.Run("stored copy is isolated", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := dposconsensustest.NewEd25519Fixture(3)
		r := fx.Round(1, 1)
		require.NoError(t, s.SaveRound(ctx, r, 0))

		r.Miners[0].ProducedBlocks = 99
		got, err := s.LoadRound(ctx, 1)
		require.NoError(t, err)
		require.Zero(t, got.Miners[0].ProducedBlocks)

		got.Miners[1].ProducedBlocks = 42
		again, err := s.LoadRound(ctx, 1)
		require.NoError(t, err)
		require.Zero(t, again.Miners[1].ProducedBlocks)
	})

	t.Run("prune", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := dposconsensustest.NewEd25519Fixture(3)
		for n := uint64(1); n <= 5; n++ {
			require.NoError(t, s.SaveRound(ctx, fx.Round(n, 1), n))
		}

		require.NoError(t, s.PruneRoundsBefore(ctx, 4))

		for n := uint64(1); n < 4; n++ {
			_, err := s.LoadRound(ctx, n)
			require.ErrorIs(t, err, dposstore.RoundUnknownError{Want: n})
		}
		for n := uint64(4); n <= 5; n++ {
			_, err := s.LoadRound(ctx, n)
			require.NoError(t, err)
		}

		got, height, err := s.LoadLatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(5), got.Number)
		require.Equal(t, uint64(5), height)
	})
}

// minedRound returns round number of fx, with every miner having produced once.
func minedRound(fx *dposconsensustest.Fixture, number uint64) *dposconsensus.Round {
	r := fx.Round(number, 1)
	for i := range r.Miners {
		m := &r.Miners[i]
		fx.Commit(r, i)
		m.Signature = []byte{0x51, byte(i)}
		m.ActualMiningTimes = append(m.ActualMiningTimes, m.ExpectedMiningTime)
		m.ProducedBlocks = 1
		m.ImpliedIrreversibleBlockHeight = number * 10
		m.SupposedOrderOfNextRound = uint32(i + 1)
		m.FinalOrderOfNextRound = uint32(i + 1)
	}
	r.ConfirmedIrreversibleBlockHeight = (number - 1) * 10
	r.ConfirmedIrreversibleBlockRoundNumber = number - 1
	return r
}
