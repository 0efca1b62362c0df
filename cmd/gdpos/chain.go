package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gordian-engine/gdpos/cmd/internal/gcmd"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposoracle"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/pelletier/go-toml/v2"
)

// keyPrefix namespaces every key derived from a passphrase.
const keyPrefix = "gdpos|"

// chainFile is the TOML chain description.
// Durations are Go duration strings; an empty string keeps the default.
type chainFile struct {
	GenesisTime time.Time `toml:"genesis_time"`

	MiningInterval         string `toml:"mining_interval"`
	MaximumTinyBlocksCount int    `toml:"maximum_tiny_blocks_count"`
	TermPeriod             string `toml:"term_period"`

	MaximumMinersCount    int    `toml:"maximum_miners_count"`
	MinerIncreaseInterval string `toml:"miner_increase_interval"`

	KeepRounds *uint64 `toml:"keep_rounds"`

	// Passphrase for the keyed randomness beacon.
	Randomness string `toml:"randomness"`

	Miners []chainMiner `toml:"miners"`
}

type chainMiner struct {
	Passphrase string `toml:"passphrase"`

	// Zero means the miner's position in the file, starting at 1.
	VoteRank uint32 `toml:"vote_rank"`
}

// chain is a decoded and validated chain file.
type chain struct {
	Config dposconsensus.Config

	// Signers and Elected are in file order.
	Signers []gcrypto.Ed25519Key
	Elected []dposconsensus.ElectedMiner

	Randomness *dposoracle.KeyedBeacon
}

func loadChain(path string) (chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return chain{}, fmt.Errorf("failed to open chain file: %w", err)
	}
	defer f.Close()

	var cf chainFile
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cf); err != nil {
		return chain{}, fmt.Errorf("failed to decode chain file %q: %w", path, err)
	}

	return cf.chain()
}

func (cf chainFile) chain() (chain, error) {
	cfg := dposconsensus.DefaultConfig()

	var errs []error
	if cf.GenesisTime.IsZero() {
		errs = append(errs, errors.New("genesis_time is required"))
	}
	cfg.GenesisTime = dposconsensus.CanonicalTime(cf.GenesisTime)

	for _, d := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{name: "mining_interval", val: cf.MiningInterval, dst: &cfg.MiningInterval},
		{name: "term_period", val: cf.TermPeriod, dst: &cfg.TermPeriod},
		{name: "miner_increase_interval", val: cf.MinerIncreaseInterval, dst: &cfg.MinerIncreaseInterval},
	} {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", d.name, err))
			continue
		}
		*d.dst = v
	}

	if cf.MaximumTinyBlocksCount != 0 {
		cfg.MaximumTinyBlocksCount = cf.MaximumTinyBlocksCount
	}
	if cf.KeepRounds != nil {
		cfg.KeepRounds = *cf.KeepRounds
	}

	if len(cf.Miners) == 0 {
		errs = append(errs, errors.New("at least one [[miners]] entry is required"))
	}
	cfg.SupposedMinersCount = len(cf.Miners)
	cfg.MaximumMinersCount = max(cf.MaximumMinersCount, len(cf.Miners))

	c := chain{
		Signers: make([]gcrypto.Ed25519Key, 0, len(cf.Miners)),
		Elected: make([]dposconsensus.ElectedMiner, 0, len(cf.Miners)),
	}
	seen := make(map[string]int, len(cf.Miners))
	for i, m := range cf.Miners {
		if m.Passphrase == "" {
			errs = append(errs, fmt.Errorf("miner %d has no passphrase", i))
			continue
		}
		if j, ok := seen[m.Passphrase]; ok {
			errs = append(errs, fmt.Errorf("miners %d and %d share a passphrase", j, i))
			continue
		}
		seen[m.Passphrase] = i

		s, err := gcmd.SignerFromInsecurePassphrase(keyPrefix, m.Passphrase)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to derive key for miner %d: %w", i, err))
			continue
		}

		rank := m.VoteRank
		if rank == 0 {
			rank = uint32(i + 1)
		}
		c.Signers = append(c.Signers, s)
		c.Elected = append(c.Elected, dposconsensus.ElectedMiner{PubKey: s.PubKey(), VoteRank: rank})
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return chain{}, errors.Join(errs...)
	}
	c.Config = cfg

	beacon, err := dposoracle.NewKeyedBeacon(gcmd.BeaconKeyFromInsecurePassphrase(keyPrefix, cf.Randomness))
	if err != nil {
		return chain{}, err
	}
	c.Randomness = beacon

	return c, nil
}

// signerIndex returns the index of the miner with the given passphrase.
func (c chain) signerIndex(passphrase string) (int, error) {
	s, err := gcmd.SignerFromInsecurePassphrase(keyPrefix, passphrase)
	if err != nil {
		return -1, err
	}
	for i, cs := range c.Signers {
		if cs.PubKey().Equal(s.PubKey()) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("passphrase does not belong to any miner in the chain file")
}

// staticElection elects the chain file's miners in every term.
func staticElection(c chain) dposoracle.StaticElection {
	return dposoracle.StaticElection{Default: c.Elected}
}
