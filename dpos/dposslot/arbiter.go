package dposslot

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Arbiter authorizes a sender's claimed production time against a round.
// The zero value is ready to use.
type Arbiter struct{}

// CheckTimeSlot checks a non-terminating block
// (an UpdateValue or TinyBlock) claimed at the given time.
//
// Producing ahead of one's own slot is only permitted to the
// extra block producer of the previous round, and only before the round start.
// The identity check applies whatever the time comparison says.
func (Arbiter) CheckTimeSlot(sender gcrypto.PubKey, claimed time.Time, r *dposconsensus.Round) (Slot, error) {
	interval, err := r.MiningInterval()
	if err != nil {
		return Slot{}, err
	}

	isPrevEBP := r.ExtraBlockProducerOfPreviousRound != nil && r.ExtraBlockProducerOfPreviousRound.Equal(sender)
	start := r.RoundStartTime()

	m, ok := r.Miner(sender)
	if !ok {
		// The previous round's terminator may have left the miner set at a term change,
		// but it still owns the gap.
		if isPrevEBP && claimed.Before(start) {
			return Slot{RoundNumber: r.Number, Kind: SlotGap}, nil
		}
		return Slot{}, dposconsensus.NotMinerError{PubKey: sender, RoundNumber: r.Number}
	}

	if claimed.Before(m.ExpectedMiningTime) {
		if !isPrevEBP || !claimed.Before(start) {
			return Slot{}, GapWindowViolationError{
				PubKey:         sender,
				RoundNumber:    r.Number,
				ClaimedTime:    claimed,
				RoundStartTime: start,
			}
		}
		return Slot{RoundNumber: r.Number, Kind: SlotGap}, nil
	}

	end := m.ExpectedMiningTime.Add(interval)
	if !claimed.Before(end) {
		return Slot{}, TimeSlotPassedError{
			PubKey:      sender,
			RoundNumber: r.Number,
			ClaimedTime: claimed,
			SlotEnd:     end,
		}
	}

	return Slot{RoundNumber: r.Number, Kind: SlotOrdinary}, nil
}

// CheckTermination checks a NextRound or NextTerm block claimed at the given time.
//
// The round's extra block producer may terminate any time from the extra block mining time.
// If it does not, every miner gets an abnormal slot, cycling in order,
// starting one interval after the extra slot.
func (Arbiter) CheckTermination(sender gcrypto.PubKey, claimed time.Time, r *dposconsensus.Round) (Slot, error) {
	m, ok := r.Miner(sender)
	if !ok {
		return Slot{}, dposconsensus.NotMinerError{PubKey: sender, RoundNumber: r.Number}
	}

	extra, err := r.ExtraBlockMiningTime()
	if err != nil {
		return Slot{}, err
	}

	slot := Slot{RoundNumber: r.Number, Kind: SlotTermination}
	if m.IsExtraBlockProducer && !claimed.Before(extra) {
		return slot, nil
	}

	next, err := ArrangeAbnormalMiningTime(r, sender, claimed)
	if err != nil {
		return Slot{}, err
	}
	if !claimed.Before(next) {
		// ArrangeAbnormalMiningTime returned the slot containing claimed.
		return slot, nil
	}

	return Slot{}, TerminationNotAllowedError{
		PubKey:      sender,
		RoundNumber: r.Number,
		ClaimedTime: claimed,
		NextAllowed: next,
	}
}
