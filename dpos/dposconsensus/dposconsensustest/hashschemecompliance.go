package dposconsensustest

import (
	"bytes"
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/stretchr/testify/require"
)

// TestHashSchemeCompliance runs the compliance tests for a hashing scheme.
//
// We currently assume that a hashing scheme value is stateless,
// and so a single value can be used for all tests.
func TestHashSchemeCompliance(t *testing.T, hs dposconsensus.HashScheme) {
	t.Run("OutValue", func(t *testing.T) {
		a1, err := hs.OutValue([]byte("a"))
		require.NoError(t, err)
		a2, err := hs.OutValue([]byte("a"))
		require.NoError(t, err)
		require.Equal(t, a1, a2)
		require.NotEmpty(t, a1)

		b, err := hs.OutValue([]byte("b"))
		require.NoError(t, err)
		require.NotEqual(t, a1, b)
	})

	t.Run("Signature", func(t *testing.T) {
		s, err := hs.Signature([]byte("material"), []byte("value"))
		require.NoError(t, err)
		require.NotEmpty(t, s)

		otherMaterial, err := hs.Signature([]byte("material2"), []byte("value"))
		require.NoError(t, err)
		require.NotEqual(t, s, otherMaterial)

		otherValue, err := hs.Signature([]byte("material"), []byte("value2"))
		require.NoError(t, err)
		require.NotEqual(t, s, otherValue)

		// Moving bytes between the two arguments must not collide.
		shifted, err := hs.Signature([]byte("materialv"), []byte("alue"))
		require.NoError(t, err)
		require.NotEqual(t, s, shifted)
	})

	t.Run("Round", func(t *testing.T) {
		fx := NewEd25519Fixture(3)
		base := fx.Round(5, 2)
		fx.Commit(base, 0)
		base.Miners[0].ActualMiningTimes = []time.Time{fx.Start.Add(fx.Interval)}

		orig, err := hs.Round(base)
		require.NoError(t, err)

		again, err := hs.Round(base.Clone())
		require.NoError(t, err)
		require.Equal(t, orig, again, "clone must hash identically")

		for _, tc := range []struct {
			name   string
			mutate func(r *dposconsensus.Round)
		}{
			{name: "Number", mutate: func(r *dposconsensus.Round) { r.Number++ }},
			{name: "TermNumber", mutate: func(r *dposconsensus.Round) { r.TermNumber++ }},
			{name: "ExtraBlockProducerOfPreviousRound", mutate: func(r *dposconsensus.Round) {
				r.ExtraBlockProducerOfPreviousRound = r.Miners[1].PubKey
			}},
			{name: "ConfirmedIrreversibleBlockHeight", mutate: func(r *dposconsensus.Round) { r.ConfirmedIrreversibleBlockHeight++ }},
			{name: "ConfirmedIrreversibleBlockRoundNumber", mutate: func(r *dposconsensus.Round) { r.ConfirmedIrreversibleBlockRoundNumber++ }},
			{name: "IsMinerListJustChanged", mutate: func(r *dposconsensus.Round) { r.IsMinerListJustChanged = true }},
			{name: "RandomSeed", mutate: func(r *dposconsensus.Round) { r.RandomSeed = []byte("other") }},
			{name: "ExpectedMiningTime", mutate: func(r *dposconsensus.Round) {
				r.Miners[2].ExpectedMiningTime = r.Miners[2].ExpectedMiningTime.Add(time.Millisecond)
			}},
			{name: "ActualMiningTimes", mutate: func(r *dposconsensus.Round) {
				r.Miners[0].ActualMiningTimes = append(r.Miners[0].ActualMiningTimes, fx.Start.Add(2*fx.Interval))
			}},
			{name: "OutValue", mutate: func(r *dposconsensus.Round) { r.Miners[1].OutValue = []byte{1} }},
			{name: "PreviousInValue", mutate: func(r *dposconsensus.Round) { r.Miners[1].PreviousInValue = []byte{1} }},
			{name: "Signature", mutate: func(r *dposconsensus.Round) { r.Miners[1].Signature = []byte{1} }},
			{name: "ImpliedIrreversibleBlockHeight", mutate: func(r *dposconsensus.Round) { r.Miners[1].ImpliedIrreversibleBlockHeight = 9 }},
			{name: "ProducedBlocks", mutate: func(r *dposconsensus.Round) { r.Miners[1].ProducedBlocks++ }},
			{name: "ProducedTinyBlocks", mutate: func(r *dposconsensus.Round) { r.Miners[1].ProducedTinyBlocks++ }},
			{name: "MissedTimeSlots", mutate: func(r *dposconsensus.Round) { r.Miners[1].MissedTimeSlots++ }},
			{name: "SupposedOrderOfNextRound", mutate: func(r *dposconsensus.Round) { r.Miners[1].SupposedOrderOfNextRound = 2 }},
			{name: "FinalOrderOfNextRound", mutate: func(r *dposconsensus.Round) { r.Miners[1].FinalOrderOfNextRound = 2 }},
			{name: "IsExtraBlockProducer", mutate: func(r *dposconsensus.Round) { r.Miners[1].IsExtraBlockProducer = true }},
			{name: "EncryptedPieces", mutate: func(r *dposconsensus.Round) {
				r.Miners[1].EncryptedPieces = []dposconsensus.Piece{{Index: 1, Data: []byte{1}}}
			}},
			{name: "DecryptedPieces", mutate: func(r *dposconsensus.Round) {
				r.Miners[1].DecryptedPieces = []dposconsensus.Piece{{Index: 1, Data: []byte{1}}}
			}},
		} {
			t.Run("changing "+tc.name+" changes the hash", func(t *testing.T) {
				r := base.Clone()
				tc.mutate(r)
				got, err := hs.Round(r)
				require.NoError(t, err)
				require.False(t, bytes.Equal(orig, got))
			})
		}

		t.Run("in values are excluded", func(t *testing.T) {
			r := base.Clone()
			r.Miners[0].InValue = []byte("secret")
			got, err := hs.Round(r)
			require.NoError(t, err)
			require.Equal(t, orig, got)
		})
	})
}
