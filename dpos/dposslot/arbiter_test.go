package dposslot_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposslot"
	"github.com/stretchr/testify/require"
)

func TestArbiter_CheckTimeSlot(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	r := fx.Round(1, 1)
	a, b, c := fx.Signers[0].PubKey(), fx.Signers[1].PubKey(), fx.Signers[2].PubKey()
	start := r.RoundStartTime()

	var arb dposslot.Arbiter

	t.Run("in slot at expected time", func(t *testing.T) {
		slot, err := arb.CheckTimeSlot(a, r.Miners[0].ExpectedMiningTime, r)
		require.NoError(t, err)
		require.Equal(t, dposslot.Slot{RoundNumber: 1, Kind: dposslot.SlotOrdinary}, slot)

		slot, err = arb.CheckTimeSlot(c, r.Miners[2].ExpectedMiningTime.Add(fx.Interval-time.Millisecond), r)
		require.NoError(t, err)
		require.Equal(t, dposslot.SlotOrdinary, slot.Kind)
	})

	t.Run("non previous extra block producer in gap", func(t *testing.T) {
		_, err := arb.CheckTimeSlot(b, start.Add(-500*time.Millisecond), r)
		var e dposslot.GapWindowViolationError
		require.ErrorAs(t, err, &e)
		require.True(t, e.PubKey.Equal(b))
		require.Equal(t, start, e.RoundStartTime)
	})

	t.Run("previous extra block producer in gap", func(t *testing.T) {
		slot, err := arb.CheckTimeSlot(a, start.Add(-500*time.Millisecond), r)
		require.NoError(t, err)
		require.Equal(t, dposslot.SlotGap, slot.Kind)
	})

	t.Run("ahead of own slot after round start", func(t *testing.T) {
		_, err := arb.CheckTimeSlot(b, start.Add(time.Second), r)
		require.ErrorAs(t, err, new(dposslot.GapWindowViolationError))

		// Even the previous extra block producer may only use the gap before the round start.
		r2 := r.Clone()
		r2.ExtraBlockProducerOfPreviousRound = b
		_, err = arb.CheckTimeSlot(b, start.Add(time.Second), r2)
		require.ErrorAs(t, err, new(dposslot.GapWindowViolationError))
	})

	t.Run("slot passed", func(t *testing.T) {
		_, err := arb.CheckTimeSlot(a, r.Miners[0].ExpectedMiningTime.Add(fx.Interval), r)
		var e dposslot.TimeSlotPassedError
		require.ErrorAs(t, err, &e)
		require.Equal(t, r.Miners[0].ExpectedMiningTime.Add(fx.Interval), e.SlotEnd)
	})

	t.Run("not a miner", func(t *testing.T) {
		outsider := dposconsensustest.CommonPrefixPubKeys(1)[0]
		_, err := arb.CheckTimeSlot(outsider, r.Miners[0].ExpectedMiningTime, r)
		require.ErrorAs(t, err, new(dposconsensus.NotMinerError))
	})

	t.Run("departed previous extra block producer keeps the gap", func(t *testing.T) {
		outsider := dposconsensustest.CommonPrefixPubKeys(1)[0]
		r2 := r.Clone()
		r2.ExtraBlockProducerOfPreviousRound = outsider

		slot, err := arb.CheckTimeSlot(outsider, start.Add(-time.Second), r2)
		require.NoError(t, err)
		require.Equal(t, dposslot.SlotGap, slot.Kind)

		_, err = arb.CheckTimeSlot(outsider, start, r2)
		require.ErrorAs(t, err, new(dposconsensus.NotMinerError))
	})

	t.Run("non-positive interval", func(t *testing.T) {
		bad := r.Clone()
		bad.Miners[1].ExpectedMiningTime = bad.Miners[0].ExpectedMiningTime
		_, err := arb.CheckTimeSlot(a, bad.Miners[0].ExpectedMiningTime, bad)
		require.ErrorAs(t, err, new(dposconsensus.NonPositiveMiningIntervalError))
	})
}

func TestArbiter_gapWindowExclusivity(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(5)
	var arb dposslot.Arbiter

	for prev := range fx.Signers {
		r := fx.Round(3, 1)
		r.ExtraBlockProducerOfPreviousRound = fx.Signers[prev].PubKey()
		start := r.RoundStartTime()

		for _, before := range []time.Duration{time.Millisecond, 500 * time.Millisecond, fx.Interval, 10 * fx.Interval} {
			claimed := start.Add(-before)
			for i, s := range fx.Signers {
				_, err := arb.CheckTimeSlot(s.PubKey(), claimed, r)
				if i == prev {
					require.NoError(t, err, "previous extra block producer %d at -%s", i, before)
				} else {
					require.ErrorAs(t, err, new(dposslot.GapWindowViolationError), "miner %d at -%s", i, before)
				}
			}
		}
	}
}

func TestArbiter_CheckTermination(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	r := fx.Round(1, 1)
	a, b := fx.Signers[0].PubKey(), fx.Signers[1].PubKey()
	extra, err := r.ExtraBlockMiningTime()
	require.NoError(t, err)

	var arb dposslot.Arbiter

	slot, err := arb.CheckTermination(a, extra, r)
	require.NoError(t, err)
	require.Equal(t, dposslot.Slot{RoundNumber: 1, Kind: dposslot.SlotTermination}, slot)

	_, err = arb.CheckTermination(a, extra.Add(-time.Millisecond), r)
	var e dposslot.TerminationNotAllowedError
	require.ErrorAs(t, err, &e)
	require.Equal(t, extra.Add(fx.Interval), e.NextAllowed)

	// B's first abnormal slot is one interval after A's.
	_, err = arb.CheckTermination(b, extra, r)
	require.ErrorAs(t, err, &e)
	require.Equal(t, extra.Add(2*fx.Interval), e.NextAllowed)

	_, err = arb.CheckTermination(b, extra.Add(2*fx.Interval), r)
	require.NoError(t, err)

	// And again one full cycle later.
	period := 4 * fx.Interval
	_, err = arb.CheckTermination(b, extra.Add(2*fx.Interval+period+time.Second), r)
	require.NoError(t, err)
}

func TestArrangeAbnormalMiningTime(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	r := fx.Round(1, 1)
	c := fx.Signers[2].PubKey()

	origin := fx.Start.Add(5 * fx.Interval)
	period := 4 * fx.Interval

	for _, tc := range []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "before origin", now: fx.Start, want: origin.Add(2 * fx.Interval)},
		{name: "inside slot", now: origin.Add(2*fx.Interval + time.Second), want: origin.Add(2 * fx.Interval)},
		{name: "second cycle", now: origin.Add(period + time.Second), want: origin.Add(period + 2*fx.Interval)},
		{name: "after slot rolls to next cycle", now: origin.Add(period + 3*fx.Interval), want: origin.Add(2*period + 2*fx.Interval)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := dposslot.ArrangeAbnormalMiningTime(r, c, tc.now)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestIsCurrentMiner(t *testing.T) {
	t.Parallel()

	fx := dposconsensustest.NewEd25519Fixture(3)
	r := fx.Round(1, 1)
	r.ExtraBlockProducerOfPreviousRound = fx.Signers[2].PubKey()

	owners := []struct {
		at    time.Duration
		owner int
	}{
		// Gap: previous extra block producer.
		{at: 0, owner: 2},

		// Ordinary slots.
		{at: fx.Interval, owner: 0},
		{at: 2*fx.Interval + time.Second, owner: 1},
		{at: 3 * fx.Interval, owner: 2},

		// Extra slot: this round's extra block producer.
		{at: 4 * fx.Interval, owner: 0},

		// Abnormal slots in order, then the extra block producer again.
		{at: 5 * fx.Interval, owner: 0},
		{at: 6 * fx.Interval, owner: 1},
		{at: 7 * fx.Interval, owner: 2},
		{at: 8 * fx.Interval, owner: 0},
		{at: 9 * fx.Interval, owner: 0},
		{at: 10*fx.Interval + time.Second, owner: 1},
	}
	for _, o := range owners {
		at := fx.Start.Add(o.at)
		for i, s := range fx.Signers {
			got, err := dposslot.IsCurrentMiner(r, s.PubKey(), at)
			require.NoError(t, err)
			require.Equal(t, i == o.owner, got, "miner %d at +%s", i, o.at)
		}
	}

	t.Run("non-positive interval", func(t *testing.T) {
		bad := r.Clone()
		bad.Miners[1].ExpectedMiningTime = bad.Miners[0].ExpectedMiningTime.Add(-time.Second)
		ok, err := dposslot.IsCurrentMiner(bad, fx.Signers[0].PubKey(), fx.Start)
		require.ErrorAs(t, err, new(dposconsensus.NonPositiveMiningIntervalError))
		require.False(t, ok)
	})
}
