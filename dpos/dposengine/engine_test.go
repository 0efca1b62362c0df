package dposengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
	"github.com/gordian-engine/gdpos/dpos/dposengine/dposenginetest"
	"github.com/gordian-engine/gdpos/dpos/dposmetrics"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/gordian-engine/gdpos/dpos/dpossim"
	"github.com/gordian-engine/gdpos/dpos/dposvalidate"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func roundHash(t *testing.T, e *dposengine.Engine) []byte {
	t.Helper()
	h, err := e.HashScheme().Round(e.CurrentRound())
	require.NoError(t, err)
	return h
}

func TestNew_missingSettings(t *testing.T) {
	t.Parallel()

	_, err := dposengine.New(context.Background(), nil)
	require.Error(t, err)
	for _, want := range []string{
		"no logger set",
		"WithHashScheme",
		"WithRoundStore",
		"WithFinalizationStore",
		"WithElection",
		"WithRandomness",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestNew_invalidConfig(t *testing.T) {
	t.Parallel()

	efx := dposenginetest.NewFixture(t, 4)
	efx.Config.MiningInterval = 0

	_, err := dposengine.New(context.Background(), efx.Log, efx.EngineOpts()...)
	require.ErrorAs(t, err, new(dposconsensus.ConfigError))
}

func TestNew_genesis(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	e := efx.NewEngine(ctx, t)

	r := e.CurrentRound()
	require.Equal(t, uint64(1), r.Number)
	require.Equal(t, uint64(1), r.TermNumber)
	require.Len(t, r.Miners, 4)
	require.Nil(t, e.PreviousRound())

	for i, s := range efx.Fx.Signers {
		m, ok := r.Miner(s.PubKey())
		require.True(t, ok)
		require.Equal(t, uint32(i+1), m.Order)
		require.Equal(t, efx.Fx.Start.Add(time.Duration(i+1)*efx.Fx.Interval), m.ExpectedMiningTime)
	}
	require.True(t, r.ExtraBlockProducerOfPreviousRound.Equal(efx.Fx.Signers[0].PubKey()))

	seed, err := efx.Randomness.RandomSeed(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, seed, r.RandomSeed)

	stored, height, err := efx.RoundStore.LoadLatestRound(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stored.Number)
	require.Zero(t, height)
	require.Zero(t, e.Height())

	h, lr := e.ImpliedLibHeight()
	require.Zero(t, h)
	require.Zero(t, lr)

	// Returned rounds are copies.
	r.Miners[0].ProducedBlocks = 100
	require.Zero(t, e.CurrentRound().Miners[0].ProducedBlocks)
}

func TestEngine_updateValueAndTinyBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	e := efx.NewEngine(ctx, t)
	p0 := efx.Producer(e, 0)
	pk0 := efx.Fx.Signers[0].PubKey()

	slot := dposenginetest.SlotStart(t, e, 0, efx.Fx)

	cmd, err := e.ConsensusCommand(pk0, slot.Add(time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, dposconsensus.BehaviourUpdateValue, cmd.Behaviour)

	p, ok, err := p0.Propose(ctx, 1, slot.Add(time.Millisecond))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dposconsensus.BehaviourUpdateValue, p.Behaviour)
	require.Len(t, p.Updates, 1)
	require.Len(t, p.Updates[0].EncryptedPieces, 3)

	require.NoError(t, e.HandlePayload(ctx, p))

	r := e.CurrentRound()
	m, _ := r.Miner(pk0)
	require.True(t, m.Mined())
	require.Equal(t, uint64(1), m.ProducedBlocks)
	require.Equal(t, uint64(1), m.ImpliedIrreversibleBlockHeight)
	require.Equal(t, p.Updates[0].SupposedOrderOfNextRound, m.FinalOrderOfNextRound)
	require.Len(t, m.EncryptedPieces, 3)
	require.Empty(t, m.InValue)

	// The same payload again changes nothing.
	before := roundHash(t, e)
	require.NoError(t, e.HandlePayload(ctx, p))
	require.Equal(t, before, roundHash(t, e))

	// One tiny block fits in the default test budget of two blocks per slot.
	p, ok, err = p0.Propose(ctx, 2, slot.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dposconsensus.BehaviourTinyBlock, p.Behaviour)
	require.NoError(t, e.HandlePayload(ctx, p))

	m, _ = e.CurrentRound().Miner(pk0)
	require.Equal(t, uint64(2), m.ProducedBlocks)
	require.Equal(t, uint64(1), m.ProducedTinyBlocks)
	require.Len(t, m.ActualMiningTimes, 2)
	require.Equal(t, uint64(2), e.Height())

	cb := e.ContinuousBlocks()
	require.True(t, cb.PubKey.Equal(pk0))
	require.Equal(t, 2, cb.Count)

	// Budget exhausted: wait for the extra slot, which signer 0 owns in genesis.
	_, ok, err = p0.Propose(ctx, 3, slot.Add(2*time.Second))
	require.NoError(t, err)
	require.False(t, ok)

	cmd, err = e.ConsensusCommand(pk0, slot.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, dposconsensus.BehaviourNothing, cmd.Behaviour)
	extra, err := e.CurrentRound().ExtraBlockMiningTime()
	require.NoError(t, err)
	require.Equal(t, extra, cmd.At)
}

func TestEngine_gapTinyBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	e := efx.NewEngine(ctx, t)

	// Signer 0 is the previous round's extra block producer at genesis.
	p, ok, err := efx.Producer(e, 0).Propose(ctx, 1, efx.Fx.Start.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dposconsensus.BehaviourTinyBlock, p.Behaviour)
	require.NoError(t, e.HandlePayload(ctx, p))

	// Nobody else may produce in the gap.
	_, ok, err = efx.Producer(e, 1).Propose(ctx, 2, efx.Fx.Start.Add(time.Second))
	require.NoError(t, err)
	require.False(t, ok)

	cmd, err := e.ConsensusCommand(efx.Fx.Signers[1].PubKey(), efx.Fx.Start.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, dposconsensus.BehaviourNothing, cmd.Behaviour)
	require.Equal(t, dposenginetest.SlotStart(t, e, 1, efx.Fx), cmd.At)
}

func TestEngine_rejectionLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)

	reg := prometheus.NewRegistry()
	m, err := dposmetrics.New(reg)
	require.NoError(t, err)

	e := efx.NewEngine(ctx, t, dposengine.WithMetrics(m))

	slot1 := dposenginetest.SlotStart(t, e, 1, efx.Fx)
	p, ok, err := efx.Producer(e, 1).Propose(ctx, 1, slot1)
	require.NoError(t, err)
	require.True(t, ok)

	// Claim signer 0's slot instead.
	p.ClaimedTime = dposenginetest.SlotStart(t, e, 0, efx.Fx)

	before := roundHash(t, e)
	err = e.HandlePayload(ctx, p)

	var rej *dposvalidate.RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, dposvalidate.TimeSlot, rej.Validator)

	require.Equal(t, before, roundHash(t, e))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PayloadsRejected.WithLabelValues(dposvalidate.TimeSlot)))
	require.Zero(t, testutil.ToFloat64(m.PayloadsApplied.WithLabelValues("UpdateValue")))

	stored, storedHeight, err := efx.RoundStore.LoadLatestRound(ctx)
	require.NoError(t, err)
	require.Zero(t, storedHeight)
	storedHash, err := efx.Fx.HashScheme.Round(stored)
	require.NoError(t, err)
	require.Equal(t, before, storedHash)
}

func TestEngine_sameKeyDifferentContentIsValidated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	e := efx.NewEngine(ctx, t)

	slot := dposenginetest.SlotStart(t, e, 0, efx.Fx)
	p, ok, err := efx.Producer(e, 0).Propose(ctx, 1, slot)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.HandlePayload(ctx, p))

	// Same sender, height, and time, but a changed commitment.
	p.Updates[0].OutValue = []byte("different")
	err = e.HandlePayload(ctx, p)
	require.ErrorAs(t, err, new(*dposvalidate.RejectionError))
}

func newNetwork(t *testing.T, efx *dposenginetest.Fixture, e *dposengine.Engine) *dpossim.Network {
	t.Helper()

	node := &dpossim.Node{Name: "solo", Engine: e}
	for i := range efx.Fx.Signers {
		node.Producers = append(node.Producers, efx.Producer(e, i))
	}
	return dpossim.NewNetwork(efx.Log.With("sys", "sim"), []*dpossim.Node{node})
}

func TestEngine_roundsAdvanceAndLibRises(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)

	reg := prometheus.NewRegistry()
	m, err := dposmetrics.New(reg)
	require.NoError(t, err)

	e := efx.NewEngine(ctx, t, dposengine.WithMetrics(m))
	n := newNetwork(t, efx, e)

	end := efx.Fx.Start.Add(time.Hour)
	require.NoError(t, n.Run(ctx, efx.Fx.Start, end, time.Second, func() bool {
		return e.CurrentRound().Number >= 4
	}))

	r := e.CurrentRound()
	require.Equal(t, uint64(4), r.Number)
	require.Equal(t, uint64(1), r.TermNumber)

	prev := e.PreviousRound()
	require.NotNil(t, prev)
	require.Equal(t, uint64(3), prev.Number)
	for i := range prev.Miners {
		pm := &prev.Miners[i]
		require.True(t, pm.Mined())
		require.Zero(t, pm.MissedTimeSlots)

		// Every miner settled its order during the round.
		nm, ok := r.Miner(pm.PubKey)
		require.True(t, ok)
		require.Equal(t, pm.FinalOrderOfNextRound, nm.Order)
	}

	h, lr := e.ImpliedLibHeight()
	require.NotZero(t, h)
	require.Less(t, h, n.Height())
	require.NotZero(t, lr)

	stored, storedRound, err := efx.FinalizationStore.LoadIrreversibleHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, h, stored)
	require.Equal(t, lr, storedRound)

	require.Equal(t, float64(4), testutil.ToFloat64(m.RoundNumber))
	require.Equal(t, float64(h), testutil.ToFloat64(m.IrreversibleHeight))
	require.Equal(t, float64(3), testutil.ToFloat64(m.PayloadsApplied.WithLabelValues("NextRound")))
}

func TestEngine_restartFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)

	e := efx.NewEngine(ctx, t)
	n := newNetwork(t, efx, e)
	require.NoError(t, n.Run(ctx, efx.Fx.Start, efx.Fx.Start.Add(time.Hour), time.Second, func() bool {
		return e.CurrentRound().Number >= 3
	}))

	restarted := efx.NewEngine(ctx, t)
	require.Equal(t, roundHash(t, e), roundHash(t, restarted))

	wantPrev, err := efx.Fx.HashScheme.Round(e.PreviousRound())
	require.NoError(t, err)
	gotPrev, err := efx.Fx.HashScheme.Round(restarted.PreviousRound())
	require.NoError(t, err)
	require.Equal(t, wantPrev, gotPrev)

	wantH, wantR := e.ImpliedLibHeight()
	gotH, gotR := restarted.ImpliedLibHeight()
	require.Equal(t, wantH, gotH)
	require.Equal(t, wantR, gotR)

	require.Equal(t, n.Height(), e.Height())
	require.Equal(t, e.Height(), restarted.Height())
}

func TestEngine_termChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)

	// Terms end after roughly two rounds of four miners.
	efx.Config.TermPeriod = 9 * efx.Fx.Interval

	// The second term drops the last miner.
	efx.Election.ByTerm = map[uint64][]dposconsensus.ElectedMiner{
		2: efx.Fx.Elected()[:3],
	}

	e := efx.NewEngine(ctx, t)
	n := newNetwork(t, efx, e)

	var terminations []dposconsensus.Behaviour
	var termHeight uint64
	n.OnPayload(func(p dposconsensus.Payload) {
		if p.Behaviour.IsTermination() {
			terminations = append(terminations, p.Behaviour)
		}
		if p.Behaviour == dposconsensus.BehaviourNextTerm {
			termHeight = p.Height
		}
	})

	require.NoError(t, n.Run(ctx, efx.Fx.Start, efx.Fx.Start.Add(time.Hour), time.Second, func() bool {
		return e.CurrentRound().TermNumber >= 2
	}))

	r := e.CurrentRound()
	require.Equal(t, uint64(2), r.TermNumber)
	require.Len(t, r.Miners, 3)
	require.True(t, r.IsMinerListJustChanged)
	require.False(t, r.IsMiner(efx.Fx.Signers[3].PubKey()))
	require.Equal(t, dposconsensus.BehaviourNextTerm, terminations[len(terminations)-1])

	require.NotZero(t, termHeight)
	seed, err := efx.Randomness.RandomSeed(ctx, termHeight)
	require.NoError(t, err)
	require.Equal(t, seed, r.RandomSeed)
}

func TestEngine_staleHeightTermination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	efx.Config.TermPeriod = 9 * efx.Fx.Interval

	e := efx.NewEngine(ctx, t)
	n := newNetwork(t, efx, e)

	var last time.Time
	n.OnPayload(func(p dposconsensus.Payload) { last = p.ClaimedTime })

	// Stop as soon as the next termination must change the term.
	require.NoError(t, n.Run(ctx, efx.Fx.Start, efx.Fx.Start.Add(time.Hour), time.Second, func() bool {
		return dposround.NeedToChangeTerm(e.CurrentRound(), e.Config())
	}))
	require.Equal(t, uint64(1), e.CurrentRound().TermNumber)
	require.Equal(t, n.Height(), e.Height())

	// Find the terminator and its earliest allowed time.
	var terminator gcrypto.PubKey
	at := last
	for i := 0; terminator == nil && i < 100; i++ {
		at = at.Add(time.Second)
		for _, s := range efx.Fx.Signers {
			cmd, err := e.ConsensusCommand(s.PubKey(), at)
			require.NoError(t, err)
			if cmd.Behaviour == dposconsensus.BehaviourNextTerm {
				terminator = s.PubKey()
				break
			}
		}
	}
	require.NotNil(t, terminator)

	b, next, err := e.NextRoundFor(ctx, terminator, at)
	require.NoError(t, err)
	require.Equal(t, dposconsensus.BehaviourNextTerm, b)

	want, err := efx.Randomness.RandomSeed(ctx, e.Height()+1)
	require.NoError(t, err)
	require.Equal(t, want, next.RandomSeed)

	cur := e.CurrentRound()
	p := dposconsensus.Payload{
		Behaviour:   b,
		RoundNumber: cur.Number,
		TermNumber:  cur.TermNumber,
		Sender:      terminator,
		ClaimedTime: at,
		NextRound:   next,
	}

	// Heights whose seeds are already known are refused, genesis included.
	before := roundHash(t, e)
	for _, h := range []uint64{0, e.Height()} {
		p.Height = h
		err := e.HandlePayload(ctx, p)
		var mismatch dposvalidate.HeightMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, e.Height()+1, mismatch.Want)

		var rej *dposvalidate.RejectionError
		require.ErrorAs(t, err, &rej)
		require.Equal(t, dposvalidate.PayloadShape, rej.Validator)
		require.Equal(t, before, roundHash(t, e))
	}

	p.Height = e.Height() + 1
	require.NoError(t, e.HandlePayload(ctx, p))

	r := e.CurrentRound()
	require.Equal(t, uint64(2), r.TermNumber)
	require.Equal(t, want, r.RandomSeed)
	require.Equal(t, p.Height, e.Height())
}

func TestEngine_nextRoundForIsDeterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	e := efx.NewEngine(ctx, t)

	pk := efx.Fx.Signers[0].PubKey()
	extra, err := e.CurrentRound().ExtraBlockMiningTime()
	require.NoError(t, err)

	b1, r1, err := e.NextRoundFor(ctx, pk, extra)
	require.NoError(t, err)
	b2, r2, err := e.NextRoundFor(ctx, pk, extra)
	require.NoError(t, err)

	require.Equal(t, dposconsensus.BehaviourNextRound, b1)
	require.Equal(t, b1, b2)

	h1, err := efx.Fx.HashScheme.Round(r1)
	require.NoError(t, err)
	h2, err := efx.Fx.HashScheme.Round(r2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestEngine_isCurrentMiner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	efx := dposenginetest.NewFixture(t, 4)
	e := efx.NewEngine(ctx, t)

	at := dposenginetest.SlotStart(t, e, 2, efx.Fx).Add(time.Second)
	for i, s := range efx.Fx.Signers {
		ok, err := e.IsCurrentMiner(s.PubKey(), at)
		require.NoError(t, err)
		require.Equal(t, i == 2, ok)
	}

	require.Equal(t, efx.Config.MaximumTinyBlocksCount, e.MaximumBlocksCount())
}
