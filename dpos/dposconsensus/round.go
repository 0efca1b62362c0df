package dposconsensus

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
)

// DefaultMiningInterval is reported by [*Round.MiningInterval]
// for a round with a single miner, where no slot spacing can be observed.
const DefaultMiningInterval = 4000 * time.Millisecond

// Round is the consensus state of one round.
//
// Miners is kept sorted by order, and the orders are always
// the contiguous range 1..len(Miners).
// Any code that builds or decodes a Round must call [*Round.Reindex]
// before using the lookup methods.
type Round struct {
	Number     uint64
	TermNumber uint64

	Miners []MinerInRound

	// ExtraBlockProducerOfPreviousRound is the only miner allowed to produce
	// in the gap between the previous round's termination and this round's start time.
	ExtraBlockProducerOfPreviousRound gcrypto.PubKey

	ConfirmedIrreversibleBlockHeight      uint64
	ConfirmedIrreversibleBlockRoundNumber uint64

	IsMinerListJustChanged bool

	// RandomSeed is the randomness oracle output bound at the start of the term.
	// It is carried unchanged through every round of the term.
	RandomSeed []byte

	// Public key bytes to position in Miners.
	index map[string]int
}

// Reindex sorts r.Miners by order, validates the round invariants,
// and rebuilds the public key lookup.
func (r *Round) Reindex() error {
	if len(r.Miners) == 0 {
		return ErrEmptyMinerList
	}

	slices.SortStableFunc(r.Miners, func(a, b MinerInRound) int {
		return cmp.Compare(a.Order, b.Order)
	})

	idx := make(map[string]int, len(r.Miners))
	for i := range r.Miners {
		m := &r.Miners[i]
		if m.PubKey == nil {
			return fmt.Errorf("miner with order %d has no public key", m.Order)
		}

		if want := uint32(i + 1); m.Order != want {
			if i > 0 && m.Order == r.Miners[i-1].Order {
				return DuplicateOrderError{Order: m.Order}
			}
			return OrderGapError{Want: want, Got: m.Order}
		}

		k := string(m.PubKey.PubKeyBytes())
		if _, ok := idx[k]; ok {
			return DuplicateMinerError{PubKey: m.PubKey}
		}
		idx[k] = i
	}

	r.index = idx
	return nil
}

func (r *Round) position(pubKey gcrypto.PubKey) (int, bool) {
	if pubKey == nil {
		return -1, false
	}
	if r.index == nil {
		panic(errors.New("BUG: round used before Reindex"))
	}
	i, ok := r.index[string(pubKey.PubKeyBytes())]
	return i, ok
}

// Miner returns a pointer into r.Miners for the given key.
func (r *Round) Miner(pubKey gcrypto.PubKey) (*MinerInRound, bool) {
	i, ok := r.position(pubKey)
	if !ok {
		return nil, false
	}
	return &r.Miners[i], true
}

// IsMiner reports whether pubKey has a slot in r.
func (r *Round) IsMiner(pubKey gcrypto.PubKey) bool {
	_, ok := r.position(pubKey)
	return ok
}

// Order returns the slot order of pubKey in r.
func (r *Round) Order(pubKey gcrypto.PubKey) (uint32, bool) {
	i, ok := r.position(pubKey)
	if !ok {
		return 0, false
	}
	return r.Miners[i].Order, true
}

// MinerAtOrder returns the miner holding the given 1-based order.
func (r *Round) MinerAtOrder(order uint32) (*MinerInRound, bool) {
	if order == 0 || int(order) > len(r.Miners) {
		return nil, false
	}
	return &r.Miners[order-1], true
}

// PubKeys returns the miners' keys in slot order.
func (r *Round) PubKeys() []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, len(r.Miners))
	for i := range r.Miners {
		out[i] = r.Miners[i].PubKey
	}
	return out
}

// MinedMiners returns the miners that published a commitment in r, in slot order.
func (r *Round) MinedMiners() []*MinerInRound {
	var out []*MinerInRound
	for i := range r.Miners {
		if r.Miners[i].Mined() {
			out = append(out, &r.Miners[i])
		}
	}
	return out
}

// NotMinedMiners returns the miners without a commitment in r, in slot order.
func (r *Round) NotMinedMiners() []*MinerInRound {
	var out []*MinerInRound
	for i := range r.Miners {
		if !r.Miners[i].Mined() {
			out = append(out, &r.Miners[i])
		}
	}
	return out
}

// ExtraBlockProducer returns the miner flagged to terminate r.
func (r *Round) ExtraBlockProducer() (*MinerInRound, bool) {
	for i := range r.Miners {
		if r.Miners[i].IsExtraBlockProducer {
			return &r.Miners[i], true
		}
	}
	return nil, false
}

// ExtractPreviousInValues returns every non-empty previous in value in r,
// keyed by public key bytes.
//
// The values are returned exactly as stored.
// Nothing here checks them against the previous round's commitments.
func (r *Round) ExtractPreviousInValues() map[string][]byte {
	out := make(map[string][]byte)
	for i := range r.Miners {
		if v := r.Miners[i].PreviousInValue; len(v) > 0 {
			out[string(r.Miners[i].PubKey.PubKeyBytes())] = bytes.Clone(v)
		}
	}
	return out
}

// AggregateSignatures returns the XOR of all non-empty miner signatures in r.
// XOR is commutative, so the result does not depend on miner order.
// The result is nil if no miner has signed.
func (r *Round) AggregateSignatures() []byte {
	var agg []byte
	for i := range r.Miners {
		sig := r.Miners[i].Signature
		if len(sig) == 0 {
			continue
		}
		if len(sig) > len(agg) {
			agg = append(agg, make([]byte, len(sig)-len(agg))...)
		}
		for j, b := range sig {
			agg[j] ^= b
		}
	}
	return agg
}

// Clone returns a deep copy of r that shares no mutable state with r.
func (r *Round) Clone() *Round {
	c := *r
	c.Miners = make([]MinerInRound, len(r.Miners))
	for i := range r.Miners {
		c.Miners[i] = r.Miners[i].Clone()
	}
	c.RandomSeed = bytes.Clone(r.RandomSeed)
	c.index = maps.Clone(r.index)
	return &c
}

// RoundStartTime is the expected mining time of the order-1 miner.
// Production before this time is the gap reserved for
// the extra block producer of the previous round.
func (r *Round) RoundStartTime() time.Time {
	return r.Miners[0].ExpectedMiningTime
}

// MiningInterval returns the spacing between consecutive slots,
// derived from the first two miners.
// A single-miner round reports [DefaultMiningInterval].
// A non-positive spacing is reported as [NonPositiveMiningIntervalError],
// so no caller ever divides by it.
func (r *Round) MiningInterval() (time.Duration, error) {
	switch len(r.Miners) {
	case 0:
		return 0, ErrEmptyMinerList
	case 1:
		return DefaultMiningInterval, nil
	}

	d := r.Miners[1].ExpectedMiningTime.Sub(r.Miners[0].ExpectedMiningTime)
	if d <= 0 {
		return 0, NonPositiveMiningIntervalError{RoundNumber: r.Number, Interval: d}
	}
	return d, nil
}

// ExtraBlockMiningTime is the start of the extra slot that follows the last ordinary slot.
func (r *Round) ExtraBlockMiningTime() (time.Time, error) {
	d, err := r.MiningInterval()
	if err != nil {
		return time.Time{}, err
	}
	return r.Miners[len(r.Miners)-1].ExpectedMiningTime.Add(d), nil
}

// CanonicalTime truncates t to millisecond precision in UTC,
// the precision at which times are hashed and encoded.
func CanonicalTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
