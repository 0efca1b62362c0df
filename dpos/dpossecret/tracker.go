package dpossecret

import (
	"bytes"
	"slices"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Tracker folds commitments, reveals, and implied heights into round state.
// It holds no state of its own; all state lives in the rounds passed to it.
type Tracker struct {
	HashScheme dposconsensus.HashScheme
	Lib        dposconsensus.LibRule
}

// RecordCommitment stores outValue as pubKey's commitment in r.
// A commitment reveals nothing, so only membership is checked.
func (t Tracker) RecordCommitment(r *dposconsensus.Round, pubKey gcrypto.PubKey, outValue []byte) error {
	m, ok := r.Miner(pubKey)
	if !ok {
		return dposconsensus.NotMinerError{PubKey: pubKey, RoundNumber: r.Number}
	}
	m.OutValue = bytes.Clone(outValue)
	return nil
}

// VerifyPreviousInValue checks that value hashes to target's commitment in previous.
func (t Tracker) VerifyPreviousInValue(previous *dposconsensus.Round, target gcrypto.PubKey, value []byte) error {
	if previous == nil {
		return ErrNoPreviousRound
	}

	pm, ok := previous.Miner(target)
	if !ok || !pm.Mined() {
		return NoCommitmentError{PubKey: target, RoundNumber: previous.Number}
	}

	got, err := t.HashScheme.OutValue(value)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, pm.OutValue) {
		return PreviousInValueMismatchError{
			PubKey:      target,
			RoundNumber: previous.Number,
			Want:        pm.OutValue,
			Got:         got,
		}
	}
	return nil
}

// RevealPreviousInValue writes value as target's previous in value in current,
// after checking it against target's commitment in previous.
//
// The check is the same whether revealer is target or a miner relaying on its behalf.
// A slot can be written once; any later write is rejected.
func (t Tracker) RevealPreviousInValue(
	current, previous *dposconsensus.Round,
	revealer, target gcrypto.PubKey,
	value []byte,
) error {
	if !current.IsMiner(revealer) {
		return dposconsensus.NotMinerError{PubKey: revealer, RoundNumber: current.Number}
	}
	m, ok := current.Miner(target)
	if !ok {
		return dposconsensus.NotMinerError{PubKey: target, RoundNumber: current.Number}
	}
	if len(m.PreviousInValue) > 0 {
		return PreviousInValueAlreadyRevealedError{PubKey: target, RoundNumber: current.Number}
	}

	if err := t.VerifyPreviousInValue(previous, target, value); err != nil {
		return err
	}

	m.PreviousInValue = bytes.Clone(value)
	return nil
}

// ComputeImpliedLibHeight returns the irreversible height implied by current and previous.
//
// The contributions are the heights recorded in previous
// by the miners that have mined in current, ignoring zeros.
// Fewer contributions than the quorum of current's miner count means no update,
// reported by a false second return.
func (t Tracker) ComputeImpliedLibHeight(current, previous *dposconsensus.Round) (uint64, bool) {
	if previous == nil {
		return 0, false
	}

	heights := make([]uint64, 0, len(current.Miners))
	for i := range current.Miners {
		m := &current.Miners[i]
		if !m.Mined() {
			continue
		}
		pm, ok := previous.Miner(m.PubKey)
		if !ok || pm.ImpliedIrreversibleBlockHeight == 0 {
			continue
		}
		heights = append(heights, pm.ImpliedIrreversibleBlockHeight)
	}

	if len(heights) == 0 || len(heights) < t.Lib.Quorum(len(current.Miners)) {
		return 0, false
	}

	slices.Sort(heights)
	return heights[t.Lib.Rank(len(heights))], true
}

// SetImpliedIrreversibleBlockHeight sets pubKey's implied height in r to candidate.
// A candidate strictly below the stored value is rejected, never clamped.
func (t Tracker) SetImpliedIrreversibleBlockHeight(r *dposconsensus.Round, pubKey gcrypto.PubKey, candidate uint64) error {
	m, ok := r.Miner(pubKey)
	if !ok {
		return dposconsensus.NotMinerError{PubKey: pubKey, RoundNumber: r.Number}
	}
	if candidate < m.ImpliedIrreversibleBlockHeight {
		return ImpliedHeightRegressionError{
			PubKey:    pubKey,
			Stored:    m.ImpliedIrreversibleBlockHeight,
			Candidate: candidate,
		}
	}
	m.ImpliedIrreversibleBlockHeight = candidate
	return nil
}
