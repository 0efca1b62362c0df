package dposslot

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
)

// MiningStatus classifies how far irreversibility lags behind the current round.
type MiningStatus uint8

const (
	MiningStatusNormal MiningStatus = iota
	MiningStatusAbnormal
	MiningStatusSevere
)

func (s MiningStatus) String() string {
	switch s {
	case MiningStatusNormal:
		return "normal"
	case MiningStatusAbnormal:
		return "abnormal"
	case MiningStatusSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// severeLag is the minimum round lag that counts as severe.
const severeLag = 8

// EvaluateMiningStatus returns the status given the current round number
// and the round number the LIB was confirmed in.
func EvaluateMiningStatus(currentRound, libRound uint64, k int) MiningStatus {
	if currentRound <= libRound+2 {
		return MiningStatusNormal
	}
	if currentRound >= libRound+uint64(severeThreshold(k)) {
		return MiningStatusSevere
	}
	return MiningStatusAbnormal
}

func severeThreshold(k int) int {
	return max(severeLag, k)
}

// MaximumBlocksCount returns how many blocks a miner may produce in one slot.
//
// While the LIB keeps up it is k.
// When it lags severely, every miner produces a single block per slot
// so that the chain does not grow far past what is irreversible.
// In between, the budget shrinks with the lag and grows with minedBoth,
// the number of miners that produced in both of the last two rounds.
func MaximumBlocksCount(currentRound, libRound uint64, minedBoth, minersCount, k int) int {
	switch EvaluateMiningStatus(currentRound, libRound, k) {
	case MiningStatusNormal:
		return k
	case MiningStatusSevere:
		return 1
	}

	if minersCount <= 0 {
		return 1
	}

	remaining := severeThreshold(k) - int(currentRound-libRound)
	n := (minedBoth*remaining + minersCount - 1) / minersCount
	return min(k, max(1, n))
}

// MinedInBoth counts the miners of current that produced in both current and previous.
// Previous may be nil, in which case the result is zero.
func MinedInBoth(current, previous *dposconsensus.Round) int {
	if previous == nil {
		return 0
	}

	n := uint(len(current.Miners))
	inCurrent := bitset.New(n)
	inPrevious := bitset.New(n)
	for i := range current.Miners {
		m := &current.Miners[i]
		if m.Mined() {
			inCurrent.Set(uint(i))
		}
		if pm, ok := previous.Miner(m.PubKey); ok && pm.Mined() {
			inPrevious.Set(uint(i))
		}
	}
	return int(inCurrent.IntersectionCardinality(inPrevious))
}
