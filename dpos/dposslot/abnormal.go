package dposslot

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// abnormalCycle describes the repeating abnormal slots after a round's extra slot.
// Each cycle has one slot per miner in order, followed by one more slot
// that belongs to the round's extra block producer.
type abnormalCycle struct {
	origin   time.Time
	interval time.Duration
	period   time.Duration
}

func newAbnormalCycle(r *dposconsensus.Round) (abnormalCycle, error) {
	interval, err := r.MiningInterval()
	if err != nil {
		return abnormalCycle{}, err
	}
	extra, err := r.ExtraBlockMiningTime()
	if err != nil {
		return abnormalCycle{}, err
	}
	return abnormalCycle{
		origin:   extra.Add(interval),
		interval: interval,
		period:   time.Duration(len(r.Miners)+1) * interval,
	}, nil
}

// position returns the 0-based slot index within the cycle containing t.
// The caller must ensure t is not before the origin.
func (c abnormalCycle) position(t time.Time) int64 {
	return int64((t.Sub(c.origin) % c.period) / c.interval)
}

// ArrangeAbnormalMiningTime returns the start of the abnormal slot of pubKey
// that contains now, or the next one after now.
func ArrangeAbnormalMiningTime(r *dposconsensus.Round, pubKey gcrypto.PubKey, now time.Time) (time.Time, error) {
	m, ok := r.Miner(pubKey)
	if !ok {
		return time.Time{}, dposconsensus.NotMinerError{PubKey: pubKey, RoundNumber: r.Number}
	}

	c, err := newAbnormalCycle(r)
	if err != nil {
		return time.Time{}, err
	}

	offset := time.Duration(m.Order-1) * c.interval
	if now.Before(c.origin) {
		return c.origin.Add(offset), nil
	}

	cycles := now.Sub(c.origin) / c.period
	t := c.origin.Add(cycles*c.period + offset)
	if now.Before(t.Add(c.interval)) {
		return t, nil
	}
	return t.Add(c.period), nil
}
