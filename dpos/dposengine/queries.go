package dposengine

import (
	"context"
	"errors"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/gordian-engine/gdpos/dpos/dposslot"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Config returns the engine's consensus configuration.
func (e *Engine) Config() dposconsensus.Config {
	return e.cfg
}

// HashScheme returns the engine's hash scheme.
func (e *Engine) HashScheme() dposconsensus.HashScheme {
	return e.hs
}

// CurrentRound returns a copy of the current round.
func (e *Engine) CurrentRound() *dposconsensus.Round {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current.Clone()
}

// PreviousRound returns a copy of the previous round,
// or nil if there is none.
func (e *Engine) PreviousRound() *dposconsensus.Round {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.previous == nil {
		return nil
	}
	return e.previous.Clone()
}

// IsCurrentMiner reports whether pubKey owns the production window containing at
// in the current round.
func (e *Engine) IsCurrentMiner(pubKey gcrypto.PubKey, at time.Time) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return dposslot.IsCurrentMiner(e.current, pubKey, at)
}

// Height returns the height of the last applied block,
// or zero if no block was applied yet.
// Payloads are only accepted for the height after it.
func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.height
}

// ImpliedLibHeight returns the last irreversible height
// and the round number it was confirmed in.
func (e *Engine) ImpliedLibHeight() (height, roundNumber uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.libHeight, e.libRound
}

// MaximumBlocksCount returns how many blocks a miner may currently
// produce in one time slot.
func (e *Engine) MaximumBlocksCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maximumBlocksCount()
}

// ContinuousBlocks returns the tracker of back to back blocks
// in the current round.
func (e *Engine) ContinuousBlocks() dposslot.ContinuousBlocks {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.continuous
}

// NextRoundFor returns the behaviour and round that terminator
// must produce to terminate the current round at the given time,
// in the block following [Engine.Height].
//
// The result depends only on the applied state, the configuration, and the oracles,
// so every node at the same height computes the same round for the same arguments.
func (e *Engine) NextRoundFor(
	ctx context.Context,
	terminator gcrypto.PubKey,
	at time.Time,
) (dposconsensus.Behaviour, *dposconsensus.Round, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b := dposconsensus.BehaviourNextRound
	if dposround.NeedToChangeTerm(e.current, e.cfg) {
		b = dposconsensus.BehaviourNextTerm
	}

	r, err := e.generate(ctx, e.current, b, terminator, at)
	if err != nil {
		return dposconsensus.BehaviourNothing, nil, err
	}
	return b, r, nil
}

// Command is what a miner should do next.
type Command struct {
	Behaviour dposconsensus.Behaviour

	// At is when to act.
	// For BehaviourNothing it is the next time worth asking again,
	// or the zero time if the miner has no upcoming window in the current round.
	At time.Time
}

// ConsensusCommand returns what pubKey should do at now.
// Any behaviour other than BehaviourNothing is to be carried out at now.
func (e *Engine) ConsensusCommand(pubKey gcrypto.PubKey, now time.Time) (Command, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.command(pubKey, now)
}

// command must be called with e.mu held.
func (e *Engine) command(pubKey gcrypto.PubKey, now time.Time) (Command, error) {
	r := e.current
	now = dposconsensus.CanonicalTime(now)
	limit := max(1, e.maximumBlocksCount())

	isPrevEBP := r.ExtraBlockProducerOfPreviousRound != nil && r.ExtraBlockProducerOfPreviousRound.Equal(pubKey)
	start := r.RoundStartTime()

	m, ok := r.Miner(pubKey)
	if now.Before(start) {
		if isPrevEBP {
			gap := dposslot.Slot{RoundNumber: r.Number, Kind: dposslot.SlotGap}
			if e.continuous.Check(pubKey, gap, limit) == nil {
				return Command{Behaviour: dposconsensus.BehaviourTinyBlock, At: now}, nil
			}
		}
		if !ok {
			return Command{Behaviour: dposconsensus.BehaviourNothing}, nil
		}
		return Command{Behaviour: dposconsensus.BehaviourNothing, At: m.ExpectedMiningTime}, nil
	}
	if !ok {
		return Command{}, dposconsensus.NotMinerError{PubKey: pubKey, RoundNumber: r.Number}
	}

	if now.Before(m.ExpectedMiningTime) {
		return Command{Behaviour: dposconsensus.BehaviourNothing, At: m.ExpectedMiningTime}, nil
	}

	interval, err := r.MiningInterval()
	if err != nil {
		return Command{}, err
	}
	if now.Before(m.ExpectedMiningTime.Add(interval)) {
		if !m.Mined() {
			return Command{Behaviour: dposconsensus.BehaviourUpdateValue, At: now}, nil
		}
		own := dposslot.Slot{RoundNumber: r.Number, Kind: dposslot.SlotOrdinary}
		if e.continuous.Check(pubKey, own, limit) == nil {
			return Command{Behaviour: dposconsensus.BehaviourTinyBlock, At: now}, nil
		}
	}

	_, err = dposslot.Arbiter{}.CheckTermination(pubKey, now, r)
	if err == nil {
		b := dposconsensus.BehaviourNextRound
		if dposround.NeedToChangeTerm(r, e.cfg) {
			b = dposconsensus.BehaviourNextTerm
		}
		return Command{Behaviour: b, At: now}, nil
	}

	var notAllowed dposslot.TerminationNotAllowedError
	if !errors.As(err, &notAllowed) {
		return Command{}, err
	}
	at := notAllowed.NextAllowed
	if m.IsExtraBlockProducer {
		extra, err := r.ExtraBlockMiningTime()
		if err != nil {
			return Command{}, err
		}
		if extra.Before(at) {
			at = extra
		}
	}
	return Command{Behaviour: dposconsensus.BehaviourNothing, At: at}, nil
}
