package dposslot

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// IsCurrentMiner reports whether pubKey owns the production window containing at.
//
// Exactly one key owns any instant:
// the previous round's extra block producer before the round start,
// the slot owner during ordinary slots,
// the round's extra block producer during the extra slot,
// and the abnormal slot owner afterwards.
//
// IsCurrentMiner does a constant amount of work regardless of the miner count.
// It returns an error instead of dividing when the round's interval is not positive.
func IsCurrentMiner(r *dposconsensus.Round, pubKey gcrypto.PubKey, at time.Time) (bool, error) {
	interval, err := r.MiningInterval()
	if err != nil {
		return false, err
	}

	if at.Before(r.RoundStartTime()) {
		ebp := r.ExtraBlockProducerOfPreviousRound
		return ebp != nil && ebp.Equal(pubKey), nil
	}

	extra, err := r.ExtraBlockMiningTime()
	if err != nil {
		return false, err
	}

	if at.Before(extra) {
		// Ordinary slots are contiguous from the round start.
		order := uint32(at.Sub(r.RoundStartTime())/interval) + 1
		owner, ok := r.MinerAtOrder(order)
		return ok && owner.PubKey.Equal(pubKey), nil
	}

	ebp, hasEBP := r.ExtraBlockProducer()
	if at.Before(extra.Add(interval)) {
		return hasEBP && ebp.PubKey.Equal(pubKey), nil
	}

	c, err := newAbnormalCycle(r)
	if err != nil {
		return false, err
	}
	pos := c.position(at)
	if pos == int64(len(r.Miners)) {
		return hasEBP && ebp.PubKey.Equal(pubKey), nil
	}
	owner, ok := r.MinerAtOrder(uint32(pos + 1))
	return ok && owner.PubKey.Equal(pubKey), nil
}
