package dposround

import (
	"bytes"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Generator builds new rounds.
// All of its methods are pure functions of their arguments and the config.
type Generator struct {
	Config dposconsensus.Config
}

func (g Generator) interval(roundNumber uint64) (time.Duration, error) {
	if g.Config.MiningInterval <= 0 {
		return 0, dposconsensus.NonPositiveMiningIntervalError{
			RoundNumber: roundNumber,
			Interval:    g.Config.MiningInterval,
		}
	}
	return g.Config.MiningInterval, nil
}

// NextRound returns the round following current within the same term,
// terminated by terminator with a block at the given time.
//
// Miners that mined in current keep the final order they settled on.
// The rest fill the remaining orders, in their current order,
// and are charged a missed time slot.
func (g Generator) NextRound(current *dposconsensus.Round, terminator gcrypto.PubKey, at time.Time) (*dposconsensus.Round, error) {
	interval, err := g.interval(current.Number)
	if err != nil {
		return nil, err
	}

	n := len(current.Miners)
	occupied := bitset.New(uint(n) + 1)
	for i := range current.Miners {
		m := &current.Miners[i]
		if !m.Mined() {
			continue
		}
		o := m.FinalOrderOfNextRound
		if o == 0 || int(o) > n {
			return nil, InconsistentOrderError{PubKey: m.PubKey, Order: o, Reason: "out of range"}
		}
		if occupied.Test(uint(o)) {
			return nil, InconsistentOrderError{PubKey: m.PubKey, Order: o, Reason: "held by another miner"}
		}
		occupied.Set(uint(o))
	}

	base := dposconsensus.CanonicalTime(at)
	next := &dposconsensus.Round{
		Number:     current.Number + 1,
		TermNumber: current.TermNumber,
		Miners:     make([]dposconsensus.MinerInRound, 0, n),

		ConfirmedIrreversibleBlockHeight:      current.ConfirmedIrreversibleBlockHeight,
		ConfirmedIrreversibleBlockRoundNumber: current.ConfirmedIrreversibleBlockRoundNumber,

		RandomSeed: bytes.Clone(current.RandomSeed),
	}

	var free uint32 = 1
	for i := range current.Miners {
		m := &current.Miners[i]
		nm := dposconsensus.MinerInRound{
			PubKey:                         m.PubKey,
			ProducedBlocks:                 m.ProducedBlocks,
			MissedTimeSlots:                m.MissedTimeSlots,
			ImpliedIrreversibleBlockHeight: m.ImpliedIrreversibleBlockHeight,
		}
		if m.Mined() {
			nm.Order = m.FinalOrderOfNextRound
		} else {
			for occupied.Test(uint(free)) {
				free++
			}
			occupied.Set(uint(free))
			nm.Order = free
			nm.MissedTimeSlots++
		}
		nm.ExpectedMiningTime = base.Add(time.Duration(nm.Order) * interval)
		next.Miners = append(next.Miners, nm)
	}

	if err := next.Reindex(); err != nil {
		return nil, err
	}

	ebpOrder := uint32(1)
	for i := range current.Miners {
		if sig := current.Miners[i].Signature; len(sig) > 0 {
			ebpOrder = SignatureOrder(sig, n)
			break
		}
	}
	ebp, _ := next.MinerAtOrder(ebpOrder)
	ebp.IsExtraBlockProducer = true

	next.ExtraBlockProducerOfPreviousRound = terminatorOrFallback(current, terminator)

	return next, nil
}

// FirstRoundOfTerm returns the first round of the term after current's,
// with miners taken from the election result in rank order.
//
// The seed is the randomness oracle output for the terminating block.
// It is carried through the whole term and anchors the signatures
// of miners that have no committed value to reveal.
func (g Generator) FirstRoundOfTerm(
	current *dposconsensus.Round,
	elected []dposconsensus.ElectedMiner,
	at time.Time,
	seed []byte,
	terminator gcrypto.PubKey,
) (*dposconsensus.Round, error) {
	next, err := g.termRound(current.Number+1, current.TermNumber+1, elected, at, seed)
	if err != nil {
		return nil, err
	}

	next.ConfirmedIrreversibleBlockHeight = current.ConfirmedIrreversibleBlockHeight
	next.ConfirmedIrreversibleBlockRoundNumber = current.ConfirmedIrreversibleBlockRoundNumber

	changed := len(next.Miners) != len(current.Miners)
	for i := range next.Miners {
		nm := &next.Miners[i]
		if m, ok := current.Miner(nm.PubKey); ok {
			nm.ImpliedIrreversibleBlockHeight = m.ImpliedIrreversibleBlockHeight
		} else {
			changed = true
		}
	}
	next.IsMinerListJustChanged = changed

	next.ExtraBlockProducerOfPreviousRound = terminatorOrFallback(current, terminator)

	return next, nil
}

// Genesis returns round 1 of term 1.
// The order-1 miner is treated as the extra block producer of the nonexistent round 0,
// so that it may produce the first block in the gap.
func (g Generator) Genesis(elected []dposconsensus.ElectedMiner, start time.Time, seed []byte) (*dposconsensus.Round, error) {
	r, err := g.termRound(1, 1, elected, start, seed)
	if err != nil {
		return nil, err
	}
	r.ExtraBlockProducerOfPreviousRound = r.Miners[0].PubKey
	return r, nil
}

func (g Generator) termRound(
	number, term uint64,
	elected []dposconsensus.ElectedMiner,
	at time.Time,
	seed []byte,
) (*dposconsensus.Round, error) {
	if len(seed) == 0 {
		return nil, ErrMissingRandomSeed
	}
	if len(elected) == 0 {
		return nil, dposconsensus.ErrEmptyMinerList
	}

	interval, err := g.interval(number)
	if err != nil {
		return nil, err
	}
	maxMiners, err := MinersCount(g.Config, at)
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(elected)
	dposconsensus.SortElected(sorted)

	// Duplicates are rejected across the whole result,
	// not just the truncated prefix, since a duplicate indicates a broken oracle.
	seen := make(map[string]struct{}, len(sorted))
	for _, e := range sorted {
		k := string(e.PubKey.PubKeyBytes())
		if _, ok := seen[k]; ok {
			return nil, dposconsensus.DuplicateMinerError{PubKey: e.PubKey}
		}
		seen[k] = struct{}{}
	}

	if len(sorted) > maxMiners {
		sorted = sorted[:maxMiners]
	}

	base := dposconsensus.CanonicalTime(at)
	r := &dposconsensus.Round{
		Number:     number,
		TermNumber: term,
		Miners:     make([]dposconsensus.MinerInRound, len(sorted)),
		RandomSeed: bytes.Clone(seed),
	}
	for i, e := range sorted {
		order := uint32(i + 1)
		r.Miners[i] = dposconsensus.MinerInRound{
			PubKey:               e.PubKey,
			Order:                order,
			ExpectedMiningTime:   base.Add(time.Duration(order) * interval),
			IsExtraBlockProducer: order == 1,
		}
	}

	if err := r.Reindex(); err != nil {
		return nil, err
	}
	return r, nil
}

func terminatorOrFallback(current *dposconsensus.Round, terminator gcrypto.PubKey) gcrypto.PubKey {
	if terminator != nil {
		return terminator
	}
	if ebp, ok := current.ExtraBlockProducer(); ok {
		return ebp.PubKey
	}
	return current.Miners[0].PubKey
}
