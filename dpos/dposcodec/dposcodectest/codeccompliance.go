package dposcodectest

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposcodec"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/stretchr/testify/require"
)

// MarshalCodecFactory returns a codec that decodes public keys with reg.
type MarshalCodecFactory func(reg *gcrypto.Registry) dposcodec.MarshalCodec

// TestMarshalCodecCompliance ensures the codec from mcf
// follows all expected properties of a [dposcodec.MarshalCodec].
func TestMarshalCodecCompliance(t *testing.T, mcf MarshalCodecFactory) {
	t.Run("populated round", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(4)
		c := mcf(&fx.Registry)

		r := populatedRound(fx)
		b, err := c.MarshalRound(r)
		require.NoError(t, err)

		got, err := c.UnmarshalRound(b)
		require.NoError(t, err)

		// In values never leave the node.
		want := r.Clone()
		for i := range want.Miners {
			want.Miners[i].InValue = nil
		}
		require.Equal(t, want, got)

		wantHash, err := fx.HashScheme.Round(r)
		require.NoError(t, err)
		gotHash, err := fx.HashScheme.Round(got)
		require.NoError(t, err)
		require.Equal(t, wantHash, gotHash)
	})

	t.Run("fresh round", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(3)
		c := mcf(&fx.Registry)

		r := fx.Round(1, 1)
		b, err := c.MarshalRound(r)
		require.NoError(t, err)

		got, err := c.UnmarshalRound(b)
		require.NoError(t, err)
		require.Equal(t, r, got)
	})

	t.Run("decoded rounds are indexed", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(3)
		c := mcf(&fx.Registry)

		b, err := c.MarshalRound(fx.Round(2, 1))
		require.NoError(t, err)
		got, err := c.UnmarshalRound(b)
		require.NoError(t, err)

		o, ok := got.Order(fx.Signers[2].PubKey())
		require.True(t, ok)
		require.Equal(t, uint32(3), o)
	})

	t.Run("invalid round rejected", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(3)
		c := mcf(&fx.Registry)

		r := fx.Round(1, 1)
		r.Miners[2].Order = 5
		b, err := c.MarshalRound(r)
		require.NoError(t, err)

		_, err = c.UnmarshalRound(b)
		require.ErrorAs(t, err, new(dposconsensus.OrderGapError))
	})

	t.Run("unregistered key type rejected", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(3)
		b, err := mcf(&fx.Registry).MarshalRound(fx.Round(1, 1))
		require.NoError(t, err)

		_, err = mcf(new(gcrypto.Registry)).UnmarshalRound(b)
		require.Error(t, err)
	})

	t.Run("update value payload", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(4)
		c := mcf(&fx.Registry)

		p := dposconsensus.Payload{
			Behaviour:   dposconsensus.BehaviourUpdateValue,
			Height:      12,
			RoundNumber: 3,
			TermNumber:  1,
			Sender:      fx.Signers[1].PubKey(),
			ClaimedTime: fx.Start.Add(2 * fx.Interval),
			Updates: []dposconsensus.MinerUpdate{
				{
					PubKey:                         fx.Signers[1].PubKey(),
					OutValue:                       []byte("out"),
					Signature:                      []byte("sig"),
					PreviousInValue:                []byte("prev"),
					ImpliedIrreversibleBlockHeight: 9,
					SupposedOrderOfNextRound:       2,
					EncryptedPieces: []dposconsensus.Piece{
						{Index: 1, Data: []byte("p1")},
						{Index: 3, Data: []byte("p3")},
						{Index: 4, Data: []byte("p4")},
					},
				},
				{
					PubKey:          fx.Signers[3].PubKey(),
					PreviousInValue: []byte("relayed"),
					DecryptedPieces: []dposconsensus.Piece{{Index: 2, Data: []byte("d2")}},
				},
			},
		}

		b, err := c.MarshalPayload(p)
		require.NoError(t, err)

		var got dposconsensus.Payload
		require.NoError(t, c.UnmarshalPayload(b, &got))
		require.Equal(t, p, got)
	})

	t.Run("termination payload", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(3)
		c := mcf(&fx.Registry)

		p := dposconsensus.Payload{
			Behaviour:   dposconsensus.BehaviourNextRound,
			Height:      40,
			RoundNumber: 1,
			TermNumber:  1,
			Sender:      fx.Signers[0].PubKey(),
			ClaimedTime: fx.Start.Add(4 * fx.Interval),
			NextRound:   fx.Round(2, 1),
		}

		b, err := c.MarshalPayload(p)
		require.NoError(t, err)

		var got dposconsensus.Payload
		require.NoError(t, c.UnmarshalPayload(b, &got))
		require.Equal(t, p, got)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		fx := dposconsensustest.NewEd25519Fixture(4)
		c := mcf(&fx.Registry)

		r := populatedRound(fx)
		first, err := c.MarshalRound(r)
		require.NoError(t, err)
		for range 20 {
			again, err := c.MarshalRound(r.Clone())
			require.NoError(t, err)
			require.Equal(t, first, again)
		}
	})
}

// populatedRound returns a round with every encodable field set.
func populatedRound(fx *dposconsensustest.Fixture) *dposconsensus.Round {
	r := fx.Round(7, 2)
	r.ConfirmedIrreversibleBlockHeight = 100
	r.ConfirmedIrreversibleBlockRoundNumber = 6
	r.IsMinerListJustChanged = true

	for i := range r.Miners {
		m := &r.Miners[i]
		fx.Commit(r, i)
		m.InValue = fx.InValue(r.Number, i)
		m.PreviousInValue = fx.InValue(r.Number-1, i)
		m.Signature = []byte{byte(i), 0xee}
		m.ActualMiningTimes = []time.Time{
			m.ExpectedMiningTime,
			m.ExpectedMiningTime.Add(250 * time.Millisecond),
		}
		m.ImpliedIrreversibleBlockHeight = uint64(90 + i)
		m.ProducedBlocks = uint64(10 * (i + 1))
		m.ProducedTinyBlocks = uint64(i)
		m.MissedTimeSlots = uint64(3 - i)
		m.SupposedOrderOfNextRound = uint32(len(r.Miners) - i)
		m.FinalOrderOfNextRound = uint32(len(r.Miners) - i)
		m.EncryptedPieces = []dposconsensus.Piece{{Index: uint32(i%len(r.Miners)) + 1, Data: []byte{0x01, byte(i)}}}
		m.DecryptedPieces = []dposconsensus.Piece{{Index: 2, Data: []byte{0x02, byte(i)}}}
	}
	return r
}
