package dposconsensus

import (
	"errors"
	"time"
)

// Config is the chain-wide consensus configuration.
// Every node must use the same values.
type Config struct {
	// MiningInterval is the length of one miner's time slot.
	MiningInterval time.Duration

	// MaximumTinyBlocksCount is the most blocks one miner may produce
	// in a single slot before another miner or another slot takes over.
	MaximumTinyBlocksCount int

	GenesisTime time.Time

	// TermPeriod is how long a term lasts before miners are re-elected.
	// Zero disables term changes.
	TermPeriod time.Duration

	// SupposedMinersCount is the number of miners at genesis.
	SupposedMinersCount int

	// MaximumMinersCount caps growth of the miner set.
	MaximumMinersCount int

	// Every MinerIncreaseInterval since genesis,
	// two more elected candidates may become miners.
	MinerIncreaseInterval time.Duration

	Lib LibRule

	// KeepRounds is how many superseded rounds stores retain.
	// Zero keeps everything.
	KeepRounds uint64
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MiningInterval:         DefaultMiningInterval,
		MaximumTinyBlocksCount: 8,
		TermPeriod:             7 * 24 * time.Hour,
		SupposedMinersCount:    17,
		MaximumMinersCount:     17,
		MinerIncreaseInterval:  365 * 24 * time.Hour,
		Lib:                    DefaultLibRule,
		KeepRounds:             40960,
	}
}

// Validate reports every invalid field.
// A node must not start with an invalid configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MiningInterval <= 0 {
		errs = append(errs, ConfigError{Field: "MiningInterval", Reason: "must be positive"})
	}
	if c.MaximumTinyBlocksCount < 1 {
		errs = append(errs, ConfigError{Field: "MaximumTinyBlocksCount", Reason: "must be at least 1"})
	}
	if c.TermPeriod < 0 {
		errs = append(errs, ConfigError{Field: "TermPeriod", Reason: "must not be negative"})
	}
	if c.SupposedMinersCount <= 0 {
		errs = append(errs, ConfigError{Field: "SupposedMinersCount", Reason: "must be positive"})
	}
	if c.MaximumMinersCount < c.SupposedMinersCount {
		errs = append(errs, ConfigError{Field: "MaximumMinersCount", Reason: "must not be below SupposedMinersCount"})
	}
	if c.MinerIncreaseInterval <= 0 {
		errs = append(errs, ConfigError{Field: "MinerIncreaseInterval", Reason: "must be positive"})
	}
	if err := c.Lib.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
