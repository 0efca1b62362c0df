package dposround_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/stretchr/testify/require"
)

func testConfig(fx *dposconsensustest.Fixture) dposconsensus.Config {
	cfg := dposconsensus.DefaultConfig()
	cfg.MiningInterval = fx.Interval
	cfg.GenesisTime = fx.Start
	cfg.SupposedMinersCount = len(fx.Signers)
	cfg.MaximumMinersCount = len(fx.Signers)
	return cfg
}

func TestGenerator_NextRound(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	g := dposround.Generator{Config: testConfig(fx)}
	pks := fx.PubKeys()

	cur := fx.Round(4, 2)
	cur.ConfirmedIrreversibleBlockHeight = 30
	cur.ConfirmedIrreversibleBlockRoundNumber = 3

	// A and C mined; B missed its slot.
	fx.Commit(cur, 0)
	fx.Commit(cur, 2)
	cur.Miners[0].Signature = []byte{0, 0, 0, 0, 0, 0, 0, 1} // 1 % 3 + 1 = 2
	cur.Miners[2].Signature = []byte{9}
	require.NoError(t, dposround.ApplySupposedOrder(cur, pks[0], 2))
	require.NoError(t, dposround.ApplySupposedOrder(cur, pks[2], 1))
	cur.Miners[0].ProducedBlocks = 5
	cur.Miners[1].MissedTimeSlots = 2
	cur.Miners[2].ImpliedIrreversibleBlockHeight = 42

	at := fx.Start.Add(20*fx.Interval + 123*time.Microsecond)
	next, err := g.NextRound(cur, pks[1], at)
	require.NoError(t, err)

	require.Equal(t, uint64(5), next.Number)
	require.Equal(t, uint64(2), next.TermNumber)
	require.Equal(t, uint64(30), next.ConfirmedIrreversibleBlockHeight)
	require.Equal(t, uint64(3), next.ConfirmedIrreversibleBlockRoundNumber)
	require.Equal(t, fx.Seed, next.RandomSeed)
	require.True(t, next.ExtraBlockProducerOfPreviousRound.Equal(pks[1]))

	a, _ := next.Miner(pks[0])
	b, _ := next.Miner(pks[1])
	c, _ := next.Miner(pks[2])
	require.Equal(t, uint32(2), a.Order)
	require.Equal(t, uint32(1), c.Order)
	require.Equal(t, uint32(3), b.Order)

	require.Equal(t, uint64(5), a.ProducedBlocks)
	require.Equal(t, uint64(3), b.MissedTimeSlots)
	require.Equal(t, uint64(42), c.ImpliedIrreversibleBlockHeight)
	require.False(t, a.Mined())

	base := dposconsensus.CanonicalTime(at)
	require.Equal(t, base.Add(fx.Interval), c.ExpectedMiningTime)
	require.Equal(t, base.Add(3*fx.Interval), b.ExpectedMiningTime)

	ebp, ok := next.ExtraBlockProducer()
	require.True(t, ok)
	require.True(t, ebp.PubKey.Equal(pks[0]), "first signature in slot order picks order 2")

	again, err := g.NextRound(cur, pks[1], at)
	require.NoError(t, err)
	h1, err := fx.HashScheme.Round(next)
	require.NoError(t, err)
	h2, err := fx.HashScheme.Round(again)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	t.Run("nil terminator falls back to extra block producer", func(t *testing.T) {
		next, err := g.NextRound(cur, nil, at)
		require.NoError(t, err)
		require.True(t, next.ExtraBlockProducerOfPreviousRound.Equal(pks[0]))
	})

	t.Run("inconsistent orders", func(t *testing.T) {
		bad := cur.Clone()
		bad.Miners[2].FinalOrderOfNextRound = 2
		_, err := g.NextRound(bad, pks[1], at)
		require.ErrorAs(t, err, new(dposround.InconsistentOrderError))

		bad = cur.Clone()
		bad.Miners[2].FinalOrderOfNextRound = 0
		_, err = g.NextRound(bad, pks[1], at)
		require.ErrorAs(t, err, new(dposround.InconsistentOrderError))
	})

	t.Run("non-positive interval", func(t *testing.T) {
		g := g
		g.Config.MiningInterval = 0
		_, err := g.NextRound(cur, pks[1], at)
		require.ErrorAs(t, err, new(dposconsensus.NonPositiveMiningIntervalError))
	})
}

func TestGenerator_FirstRoundOfTerm(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	cfg := testConfig(fx)
	cfg.MaximumMinersCount = 5
	cfg.SupposedMinersCount = 5
	g := dposround.Generator{Config: cfg}

	cur := fx.Round(9, 1)
	cur.ConfirmedIrreversibleBlockHeight = 80
	cur.Miners[1].ImpliedIrreversibleBlockHeight = 85

	at := fx.Start.Add(time.Hour)
	seed := []byte("term two seed")

	t.Run("same miners", func(t *testing.T) {
		next, err := g.FirstRoundOfTerm(cur, fx.Elected(), at, seed, fx.Signers[2].PubKey())
		require.NoError(t, err)

		require.Equal(t, uint64(10), next.Number)
		require.Equal(t, uint64(2), next.TermNumber)
		require.Equal(t, seed, next.RandomSeed)
		require.False(t, next.IsMinerListJustChanged)
		require.Equal(t, uint64(80), next.ConfirmedIrreversibleBlockHeight)
		require.True(t, next.ExtraBlockProducerOfPreviousRound.Equal(fx.Signers[2].PubKey()))

		for i, s := range fx.Signers {
			m, ok := next.Miner(s.PubKey())
			require.True(t, ok)
			require.Equal(t, uint32(i+1), m.Order)
			require.Equal(t, i == 0, m.IsExtraBlockProducer)
		}
		m, _ := next.Miner(fx.Signers[1].PubKey())
		require.Equal(t, uint64(85), m.ImpliedIrreversibleBlockHeight)
	})

	t.Run("missing seed", func(t *testing.T) {
		_, err := g.FirstRoundOfTerm(cur, fx.Elected(), at, nil, nil)
		require.ErrorIs(t, err, dposround.ErrMissingRandomSeed)
	})

	t.Run("empty election", func(t *testing.T) {
		_, err := g.FirstRoundOfTerm(cur, nil, at, seed, nil)
		require.ErrorIs(t, err, dposconsensus.ErrEmptyMinerList)
	})

	t.Run("duplicate elected", func(t *testing.T) {
		elected := append(fx.Elected(), dposconsensus.ElectedMiner{PubKey: fx.Signers[0].PubKey(), VoteRank: 9})
		_, err := g.FirstRoundOfTerm(cur, elected, at, seed, nil)
		require.ErrorAs(t, err, new(dposconsensus.DuplicateMinerError))
	})

	t.Run("common prefix keys order deterministically", func(t *testing.T) {
		keys := dposconsensustest.CommonPrefixPubKeys(5)

		forward := make([]dposconsensus.ElectedMiner, len(keys))
		reversed := make([]dposconsensus.ElectedMiner, len(keys))
		for i, k := range keys {
			forward[i] = dposconsensus.ElectedMiner{PubKey: k, VoteRank: 1}
			reversed[len(keys)-1-i] = dposconsensus.ElectedMiner{PubKey: k, VoteRank: 1}
		}

		r1, err := g.FirstRoundOfTerm(cur, forward, at, seed, nil)
		require.NoError(t, err)
		r2, err := g.FirstRoundOfTerm(cur, reversed, at, seed, nil)
		require.NoError(t, err)

		h1, err := fx.HashScheme.Round(r1)
		require.NoError(t, err)
		h2, err := fx.HashScheme.Round(r2)
		require.NoError(t, err)
		require.Equal(t, h1, h2)

		require.True(t, r1.IsMinerListJustChanged)

		// The keys were generated in descending byte order,
		// so full-key comparison puts the last one first.
		require.True(t, r1.Miners[0].PubKey.Equal(keys[4]))
		require.True(t, r1.Miners[4].PubKey.Equal(keys[0]))
	})

	t.Run("truncated to miners count", func(t *testing.T) {
		g := g
		g.Config.SupposedMinersCount = 2
		g.Config.MaximumMinersCount = 2
		next, err := g.FirstRoundOfTerm(cur, fx.Elected(), at, seed, nil)
		require.NoError(t, err)
		require.Len(t, next.Miners, 2)
		require.True(t, next.IsMinerListJustChanged)
		require.False(t, next.IsMiner(fx.Signers[2].PubKey()))
	})
}

func TestGenerator_Genesis(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	g := dposround.Generator{Config: testConfig(fx)}

	r, err := g.Genesis(fx.Elected(), fx.Start, fx.Seed)
	require.NoError(t, err)

	require.Equal(t, uint64(1), r.Number)
	require.Equal(t, uint64(1), r.TermNumber)
	require.True(t, r.ExtraBlockProducerOfPreviousRound.Equal(fx.Signers[0].PubKey()))
	require.Equal(t, fx.Start.Add(fx.Interval), r.RoundStartTime())

	// Matches the fixture's round layout.
	want, err := fx.HashScheme.Round(fx.Round(1, 1))
	require.NoError(t, err)
	got, err := fx.HashScheme.Round(r)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestNeedToChangeTerm(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(4)
	cfg := testConfig(fx)
	cfg.TermPeriod = time.Hour

	r := fx.Round(30, 1)
	end := fx.Start.Add(time.Hour)

	// Quorum of 4 is 3.
	r.Miners[0].ActualMiningTimes = []time.Time{end}
	r.Miners[1].ActualMiningTimes = []time.Time{end.Add(-time.Hour), end.Add(time.Second)}
	r.Miners[2].ActualMiningTimes = []time.Time{end.Add(-time.Second)}
	require.False(t, dposround.NeedToChangeTerm(r, cfg))

	r.Miners[2].ActualMiningTimes = append(r.Miners[2].ActualMiningTimes, end.Add(time.Second))
	require.True(t, dposround.NeedToChangeTerm(r, cfg))

	// Term 2 ends an hour later.
	r.TermNumber = 2
	require.False(t, dposround.NeedToChangeTerm(r, cfg))

	cfg.TermPeriod = 0
	r.TermNumber = 1
	require.False(t, dposround.NeedToChangeTerm(r, cfg))
}

func TestMinersCount(t *testing.T) {
	t.Parallel()

	cfg := dposconsensus.DefaultConfig()
	cfg.GenesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.SupposedMinersCount = 5
	cfg.MaximumMinersCount = 10
	cfg.MinerIncreaseInterval = 24 * time.Hour

	for _, tc := range []struct {
		after time.Duration
		want  int
	}{
		{after: -time.Hour, want: 5},
		{after: 0, want: 5},
		{after: 23 * time.Hour, want: 5},
		{after: 24 * time.Hour, want: 7},
		{after: 50 * time.Hour, want: 9},
		{after: 1000 * time.Hour, want: 10},
	} {
		got, err := dposround.MinersCount(cfg, cfg.GenesisTime.Add(tc.after))
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "after %s", tc.after)
	}

	cfg.MinerIncreaseInterval = 0
	_, err := dposround.MinersCount(cfg, cfg.GenesisTime)
	require.Error(t, err)
}
