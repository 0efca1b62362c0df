package dposvalidate_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/gordian-engine/gdpos/dpos/dpossecret"
	"github.com/gordian-engine/gdpos/dpos/dposslot"
	"github.com/gordian-engine/gdpos/dpos/dposvalidate"
	"github.com/stretchr/testify/require"
)

// fixture holds a previous round where every miner committed
// and a fresh current round in the same term.
type fixture struct {
	t  *testing.T
	fx *dposconsensustest.Fixture

	cfg dposconsensus.Config
	p   dposvalidate.Pipeline

	prev, cur *dposconsensus.Round

	// In values committed in prev, by signer index.
	ins [][]byte
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()

	fx := dposconsensustest.NewEd25519Fixture(n)
	cfg := dposconsensus.DefaultConfig()
	cfg.MiningInterval = fx.Interval
	cfg.GenesisTime = fx.Start
	cfg.SupposedMinersCount = n
	cfg.MaximumMinersCount = n
	cfg.TermPeriod = 0

	f := &fixture{
		t:   t,
		fx:  fx,
		cfg: cfg,
		p:   dposvalidate.NewPipeline(fx.HashScheme, cfg),
	}

	f.prev = fx.Round(1, 1)
	for i := range fx.Signers {
		f.ins = append(f.ins, fx.Commit(f.prev, i))
		f.prev.Miners[i].Signature = []byte{byte(i + 1), 0xaa}
	}

	f.cur = fx.Round(2, 1)
	return f
}

// update returns a valid UpdateValue payload for signer idx in its own slot.
func (f *fixture) update(idx int) dposconsensus.Payload {
	f.t.Helper()

	pk := f.fx.Signers[idx].PubKey()
	m, ok := f.cur.Miner(pk)
	require.True(f.t, ok)

	piv := f.ins[idx]
	if len(m.PreviousInValue) > 0 {
		piv = m.PreviousInValue
	}
	sig, err := dposround.Signature(f.fx.HashScheme, f.prev, f.cur, pk, piv)
	require.NoError(f.t, err)
	out, err := f.fx.HashScheme.OutValue(f.fx.InValue(f.cur.Number, idx))
	require.NoError(f.t, err)

	return dposconsensus.Payload{
		Behaviour:   dposconsensus.BehaviourUpdateValue,
		Height:      10,
		RoundNumber: f.cur.Number,
		TermNumber:  f.cur.TermNumber,
		Sender:      pk,
		ClaimedTime: m.ExpectedMiningTime,
		Updates: []dposconsensus.MinerUpdate{{
			PubKey:                         pk,
			OutValue:                       out,
			Signature:                      sig,
			PreviousInValue:                f.ins[idx],
			ImpliedIrreversibleBlockHeight: 9,
			SupposedOrderOfNextRound:       dposround.SignatureOrder(sig, len(f.cur.Miners)),
		}},
	}
}

func (f *fixture) input(p dposconsensus.Payload) dposvalidate.Input {
	return dposvalidate.Input{
		Payload:            p,
		Current:            f.cur,
		Previous:           f.prev,
		LastHeight:         9,
		MaximumBlocksCount: f.cfg.MaximumTinyBlocksCount,
	}
}

// validate runs the pipeline and asserts that neither round was modified.
func (f *fixture) validate(in dposvalidate.Input) (dposvalidate.Result, error) {
	f.t.Helper()

	curHash, err := f.fx.HashScheme.Round(in.Current)
	require.NoError(f.t, err)
	prevHash, err := f.fx.HashScheme.Round(in.Previous)
	require.NoError(f.t, err)

	res, verr := f.p.Validate(in)

	h, err := f.fx.HashScheme.Round(in.Current)
	require.NoError(f.t, err)
	require.Equal(f.t, curHash, h, "validation modified the current round")
	h, err = f.fx.HashScheme.Round(in.Previous)
	require.NoError(f.t, err)
	require.Equal(f.t, prevHash, h, "validation modified the previous round")

	return res, verr
}

func requireRejected(t *testing.T, err error, validator string, target any) {
	t.Helper()

	var re *dposvalidate.RejectionError
	require.ErrorAs(t, err, &re)
	require.Equal(t, validator, re.Validator, "rejected with %v", re.Err)
	if target != nil {
		require.ErrorAs(t, err, target)
	}
}

func TestPipeline_acceptsInSlotUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	res, err := f.validate(f.input(f.update(0)))
	require.NoError(t, err)
	require.Equal(t, dposslot.Slot{RoundNumber: 2, Kind: dposslot.SlotOrdinary}, res.Slot)
}

func TestPipeline_gapWindowViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(1)
	p.ClaimedTime = f.cur.RoundStartTime().Add(-500 * time.Millisecond)

	_, err := f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.TimeSlot, new(dposslot.GapWindowViolationError))
}

func TestPipeline_previousInValueMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(0)
	p.Updates[0].PreviousInValue = []byte("X")

	_, err := f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.PreviousInValueIntegrity, new(dpossecret.PreviousInValueMismatchError))

	m, _ := f.cur.Miner(f.fx.Signers[0].PubKey())
	require.Empty(t, m.PreviousInValue)
}

func TestPipeline_relayedRevealIsChecked(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(0)

	// A relays B's value correctly.
	p.Updates = append(p.Updates, dposconsensus.MinerUpdate{
		PubKey:          f.fx.Signers[1].PubKey(),
		PreviousInValue: f.ins[1],
	})
	_, err := f.validate(f.input(p))
	require.NoError(t, err)

	// A relays C's slot with A's own value.
	p.Updates[1] = dposconsensus.MinerUpdate{
		PubKey:          f.fx.Signers[2].PubKey(),
		PreviousInValue: f.ins[0],
	}
	_, err = f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.PreviousInValueIntegrity, new(dpossecret.PreviousInValueMismatchError))
}

func TestPipeline_revealedValueCannotChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	bpk := f.fx.Signers[1].PubKey()
	m, _ := f.cur.Miner(bpk)
	m.PreviousInValue = f.ins[1]

	// Repeating the stored value is skipped.
	p := f.update(0)
	p.Updates = append(p.Updates, dposconsensus.MinerUpdate{PubKey: bpk, PreviousInValue: f.ins[1]})
	_, err := f.validate(f.input(p))
	require.NoError(t, err)

	// Changing it is rejected even with another value that would verify elsewhere.
	p.Updates[1].PreviousInValue = f.ins[2]
	_, err = f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.PreviousInValueIntegrity, new(dpossecret.PreviousInValueAlreadyRevealedError))
}

func TestPipeline_impliedHeightRegression(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	m, _ := f.cur.Miner(f.fx.Signers[0].PubKey())
	m.ImpliedIrreversibleBlockHeight = 8

	p := f.update(0)
	p.Updates[0].ImpliedIrreversibleBlockHeight = 5

	_, err := f.validate(f.input(p))
	var e dpossecret.ImpliedHeightRegressionError
	requireRejected(t, err, dposvalidate.LibMonotonicity, &e)
	require.Equal(t, uint64(8), e.Stored)
	require.Equal(t, uint64(5), e.Candidate)
	require.Equal(t, uint64(8), m.ImpliedIrreversibleBlockHeight)

	p.Updates[0].ImpliedIrreversibleBlockHeight = 8
	_, err = f.validate(f.input(p))
	require.NoError(t, err)

	// The block's own height is the highest a miner can imply.
	p.Updates[0].ImpliedIrreversibleBlockHeight = p.Height
	_, err = f.validate(f.input(p))
	require.NoError(t, err)

	p.Updates[0].ImpliedIrreversibleBlockHeight = 1 << 60
	_, err = f.validate(f.input(p))
	var above dposvalidate.ImpliedHeightAboveBlockError
	requireRejected(t, err, dposvalidate.LibMonotonicity, &above)
	require.Equal(t, uint64(1<<60), above.Implied)
	require.Equal(t, uint64(10), above.Height)
}

func TestPipeline_continuousBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(0)
	slot := dposslot.Slot{RoundNumber: 2, Kind: dposslot.SlotOrdinary}

	in := f.input(p)
	in.MaximumBlocksCount = 2
	in.Continuous = dposslot.ContinuousBlocks{PubKey: p.Sender, Slot: slot, Count: 2}
	_, err := f.validate(in)
	requireRejected(t, err, dposvalidate.ContinuousBlocks, new(dposslot.ContinuousBlocksExceededError))

	// Another miner's streak does not count against this one.
	in.Continuous.PubKey = f.fx.Signers[1].PubKey()
	_, err = f.validate(in)
	require.NoError(t, err)
}

func TestPipeline_miningPermission(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(0)
	p.Sender = dposconsensustest.CommonPrefixPubKeys(1)[0]
	_, err := f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.MiningPermission, new(dposconsensus.NotMinerError))
}

func TestPipeline_payloadShape(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(0)
	p.RoundNumber = 3
	_, err := f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.PayloadShape, new(dposvalidate.RoundMismatchError))

	p = f.update(0)
	p.Behaviour = dposconsensus.BehaviourNothing
	_, err = f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.PayloadShape, nil)
}

func TestPipeline_heightFollowsLastApplied(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	p := f.update(0)

	for _, h := range []uint64{0, 9, 11} {
		p.Height = h
		_, err := f.validate(f.input(p))
		var e dposvalidate.HeightMismatchError
		requireRejected(t, err, dposvalidate.PayloadShape, &e)
		require.Equal(t, uint64(10), e.Want)
		require.Equal(t, h, e.Got)
	}

	t.Run("stale termination", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		p.Height = 0
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.PayloadShape, new(dposvalidate.HeightMismatchError))
	})
}

func TestPipeline_miningTimeOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	apk := f.fx.Signers[0].PubKey()
	m, _ := f.cur.Miner(apk)
	m.OutValue = []byte("committed")
	m.ActualMiningTimes = []time.Time{m.ExpectedMiningTime.Add(2 * time.Second)}

	tiny := dposconsensus.Payload{
		Behaviour:   dposconsensus.BehaviourTinyBlock,
		Height:      10,
		RoundNumber: 2,
		TermNumber:  1,
		Sender:      apk,
		ClaimedTime: m.ExpectedMiningTime.Add(time.Second),
	}
	_, err := f.validate(f.input(tiny))
	var e dposvalidate.MiningTimeRegressionError
	requireRejected(t, err, dposvalidate.TimeSlot, &e)
	require.Equal(t, m.ActualMiningTimes[0], e.Latest)

	// The same instant as the latest block is still in order.
	tiny.ClaimedTime = m.ActualMiningTimes[0]
	_, err = f.validate(f.input(tiny))
	require.NoError(t, err)
}

func TestPipeline_updateValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)

	for _, tc := range []struct {
		name   string
		mutate func(p *dposconsensus.Payload)
		target any
	}{
		{
			name: "missing sender update",
			mutate: func(p *dposconsensus.Payload) {
				p.Updates[0].PubKey = f.fx.Signers[1].PubKey()
				p.Updates[0].PreviousInValue = f.ins[1]
			},
		},
		{
			name:   "empty out value",
			mutate: func(p *dposconsensus.Payload) { p.Updates[0].OutValue = nil },
		},
		{
			name:   "missing reveal",
			mutate: func(p *dposconsensus.Payload) { p.Updates[0].PreviousInValue = nil },
		},
		{
			name:   "wrong signature",
			mutate: func(p *dposconsensus.Payload) { p.Updates[0].Signature = []byte("ground signature") },
			target: new(dposvalidate.SignatureMismatchError),
		},
		{
			name: "wrong supposed order",
			mutate: func(p *dposconsensus.Payload) {
				p.Updates[0].SupposedOrderOfNextRound = p.Updates[0].SupposedOrderOfNextRound%3 + 1
			},
			target: new(dposvalidate.SupposedOrderMismatchError),
		},
		{
			name: "relay carries a commitment",
			mutate: func(p *dposconsensus.Payload) {
				p.Updates = append(p.Updates, dposconsensus.MinerUpdate{
					PubKey:   f.fx.Signers[1].PubKey(),
					OutValue: []byte{1},
				})
			},
			target: new(dposvalidate.InvalidRelayError),
		},
		{
			name: "encrypted piece to self",
			mutate: func(p *dposconsensus.Payload) {
				p.Updates[0].EncryptedPieces = []dposconsensus.Piece{{Index: 1, Data: []byte{1}}, {Index: 2, Data: []byte{2}}}
			},
			target: new(dposvalidate.InvalidPiecesError),
		},
		{
			name: "too few encrypted pieces",
			mutate: func(p *dposconsensus.Payload) {
				p.Updates[0].EncryptedPieces = []dposconsensus.Piece{{Index: 2, Data: []byte{2}}}
			},
			target: new(dposvalidate.InvalidPiecesError),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := f.update(0)
			tc.mutate(&p)
			_, err := f.validate(f.input(p))
			requireRejected(t, err, dposvalidate.UpdateValue, tc.target)
		})
	}

	t.Run("valid encrypted pieces", func(t *testing.T) {
		p := f.update(0)
		p.Updates[0].EncryptedPieces = []dposconsensus.Piece{{Index: 2, Data: []byte{2}}, {Index: 3, Data: []byte{3}}}
		_, err := f.validate(f.input(p))
		require.NoError(t, err)
	})

	t.Run("out value cannot change", func(t *testing.T) {
		f := newFixture(t, 3)
		m, _ := f.cur.Miner(f.fx.Signers[0].PubKey())
		m.OutValue = []byte("earlier commitment")

		_, err := f.validate(f.input(f.update(0)))
		requireRejected(t, err, dposvalidate.UpdateValue, new(dposvalidate.OutValueChangedError))
	})

	t.Run("new miner signs with seed", func(t *testing.T) {
		f := newFixture(t, 3)
		// C made no commitment in the previous round.
		f.prev.Miners[2].OutValue = nil

		pk := f.fx.Signers[2].PubKey()
		p := f.update(2)
		p.Updates[0].PreviousInValue = nil
		sig, err := dposround.Signature(f.fx.HashScheme, f.prev, f.cur, pk, nil)
		require.NoError(t, err)
		p.Updates[0].Signature = sig
		p.Updates[0].SupposedOrderOfNextRound = dposround.SignatureOrder(sig, 3)

		_, err = f.validate(f.input(p))
		require.NoError(t, err)
	})
}

func TestPipeline_relayedDecryptedPieces(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	// B encrypted pieces to A (order 1) and C (order 3) in the previous round.
	f.prev.Miners[1].EncryptedPieces = []dposconsensus.Piece{{Index: 1, Data: []byte{1}}, {Index: 3, Data: []byte{3}}}
	bpk := f.fx.Signers[1].PubKey()

	p := f.update(0)
	p.Updates = append(p.Updates, dposconsensus.MinerUpdate{
		PubKey:          bpk,
		DecryptedPieces: []dposconsensus.Piece{{Index: 1, Data: []byte("share")}},
	})
	_, err := f.validate(f.input(p))
	require.NoError(t, err)

	// A may only relay the piece addressed to itself.
	p.Updates[1].DecryptedPieces[0].Index = 3
	_, err = f.validate(f.input(p))
	requireRejected(t, err, dposvalidate.UpdateValue, new(dposvalidate.InvalidPiecesError))
}

func TestPipeline_tinyBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	apk := f.fx.Signers[0].PubKey()
	tiny := dposconsensus.Payload{
		Behaviour:   dposconsensus.BehaviourTinyBlock,
		Height:      10,
		RoundNumber: 2,
		TermNumber:  1,
		Sender:      apk,
		ClaimedTime: f.cur.Miners[0].ExpectedMiningTime.Add(time.Second),
	}

	_, err := f.validate(f.input(tiny))
	requireRejected(t, err, dposvalidate.TinyBlock, nil)
	require.ErrorIs(t, err, dposvalidate.ErrTinyBlockBeforeUpdate)

	m, _ := f.cur.Miner(apk)
	m.OutValue = []byte("committed")
	_, err = f.validate(f.input(tiny))
	require.NoError(t, err)

	// Gap blocks by the previous extra block producer need no prior update.
	m.OutValue = nil
	tiny.ClaimedTime = f.cur.RoundStartTime().Add(-time.Second)
	res, err := f.validate(f.input(tiny))
	require.NoError(t, err)
	require.Equal(t, dposslot.SlotGap, res.Slot.Kind)

	tiny.Updates = []dposconsensus.MinerUpdate{{PubKey: apk}}
	_, err = f.validate(f.input(tiny))
	require.ErrorIs(t, err, dposvalidate.ErrTinyBlockUpdates)
}

// terminationFixture returns a fixture whose current round has every miner mined,
// and a valid NextRound payload from the extra block producer.
func terminationFixture(t *testing.T) (*fixture, dposconsensus.Payload, dposround.Generator) {
	t.Helper()

	f := newFixture(t, 3)
	for i, s := range f.fx.Signers {
		f.fx.Commit(f.cur, i)
		f.cur.Miners[i].Signature = []byte{byte(10 * (i + 1))}
		f.cur.Miners[i].ActualMiningTimes = []time.Time{f.cur.Miners[i].ExpectedMiningTime}
		require.NoError(t, dposround.ApplySupposedOrder(f.cur, s.PubKey(), uint32(3-i)))
	}

	g := dposround.Generator{Config: f.cfg}
	extra, err := f.cur.ExtraBlockMiningTime()
	require.NoError(t, err)
	next, err := g.NextRound(f.cur, f.fx.Signers[0].PubKey(), extra)
	require.NoError(t, err)

	p := dposconsensus.Payload{
		Behaviour:   dposconsensus.BehaviourNextRound,
		Height:      10,
		RoundNumber: 2,
		TermNumber:  1,
		Sender:      f.fx.Signers[0].PubKey(),
		ClaimedTime: extra,
		NextRound:   next,
	}
	return f, p, g
}

func TestPipeline_termination(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		res, err := f.validate(in)
		require.NoError(t, err)
		require.Equal(t, dposslot.SlotTermination, res.Slot.Kind)
	})

	t.Run("too early", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		p.ClaimedTime = p.ClaimedTime.Add(-time.Millisecond)
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.TimeSlot, new(dposslot.TerminationNotAllowedError))
	})

	t.Run("confirmed height regression", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		f.cur.ConfirmedIrreversibleBlockHeight = 50
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.LibMonotonicity, new(dposvalidate.ConfirmedHeightRegressionError))
	})

	t.Run("unexpected term change", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		p.Behaviour = dposconsensus.BehaviourNextTerm
		p.NextRound.TermNumber++
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.RoundTerminate, new(dposvalidate.TerminationError))
	})

	t.Run("carries round values", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		p.NextRound.Miners[0].OutValue = []byte{1}
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.RoundTerminate, nil)
	})

	t.Run("reorders mined miners", func(t *testing.T) {
		f, p, _ := terminationFixture(t)
		p.NextRound.Miners[0].Order, p.NextRound.Miners[1].Order = p.NextRound.Miners[1].Order, p.NextRound.Miners[0].Order
		require.NoError(t, p.NextRound.Reindex())
		in := f.input(p)
		in.ExpectedNextRound = p.NextRound.Clone()
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.NextRoundMiningOrder, new(dposvalidate.NextRoundOrderError))
	})

	t.Run("differs from local round", func(t *testing.T) {
		f, p, g := terminationFixture(t)
		in := f.input(p)
		in.ExpectedNextRound, _ = g.NextRound(f.cur, f.fx.Signers[0].PubKey(), p.ClaimedTime.Add(time.Second))
		_, err := f.validate(in)
		requireRejected(t, err, dposvalidate.RoundConsistency, new(dposvalidate.RoundHashMismatchError))

		in.ExpectedNextRound = nil
		_, err = f.validate(in)
		require.ErrorIs(t, err, dposvalidate.ErrNoExpectedRound)
	})
}
