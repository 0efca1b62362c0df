package dposround

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
)

// NeedToChangeTerm reports whether enough miners of r have produced
// past the end of r's term for the round to be terminated with a new term.
// A zero TermPeriod disables term changes.
func NeedToChangeTerm(r *dposconsensus.Round, cfg dposconsensus.Config) bool {
	if cfg.TermPeriod <= 0 {
		return false
	}

	end := cfg.GenesisTime.Add(time.Duration(r.TermNumber) * cfg.TermPeriod)
	count := 0
	for i := range r.Miners {
		t := r.Miners[i].LatestActualMiningTime()
		if !t.IsZero() && !t.Before(end) {
			count++
		}
	}
	return count >= cfg.Lib.Quorum(len(r.Miners))
}

// MinersCount returns how many elected candidates become miners at now.
// The count starts at the supposed count and grows by two
// every MinerIncreaseInterval since genesis, up to the maximum.
func MinersCount(cfg dposconsensus.Config, now time.Time) (int, error) {
	if cfg.MinerIncreaseInterval <= 0 {
		return 0, dposconsensus.ConfigError{Field: "MinerIncreaseInterval", Reason: "must be positive"}
	}

	n := cfg.SupposedMinersCount
	if age := now.Sub(cfg.GenesisTime); age > 0 {
		n += 2 * int(age/cfg.MinerIncreaseInterval)
	}
	return min(n, cfg.MaximumMinersCount), nil
}
