package dposconsensustest

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gcryptotest"
)

// Fixture builds rounds over a fixed set of deterministic ed25519 miners.
type Fixture struct {
	HashScheme dposconsensus.HashScheme

	Registry gcrypto.Registry

	Signers []gcrypto.Ed25519Key

	// Start is the time that rounds built by the fixture are anchored to.
	// The order-1 miner's expected mining time is Start+Interval.
	Start    time.Time
	Interval time.Duration

	// Seed is the random seed set on rounds built by the fixture.
	Seed []byte
}

// NewEd25519Fixture returns a fixture with n miners and a 4 second interval.
func NewEd25519Fixture(n int) *Fixture {
	f := &Fixture{
		HashScheme: SimpleHashScheme{},
		Signers:    gcryptotest.DeterministicEd25519Keys(n),
		Start:      time.UnixMilli(1_700_000_000_000).UTC(),
		Interval:   4000 * time.Millisecond,
		Seed:       []byte("fixture random seed for term one"),
	}
	gcrypto.RegisterEd25519(&f.Registry)
	RegisterCommonPrefix(&f.Registry)
	return f
}

// PubKeys returns the miners' public keys in signer order.
func (f *Fixture) PubKeys() []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, len(f.Signers))
	for i, s := range f.Signers {
		out[i] = s.PubKey()
	}
	return out
}

// Elected returns an election result ranking the signers in order.
func (f *Fixture) Elected() []dposconsensus.ElectedMiner {
	out := make([]dposconsensus.ElectedMiner, len(f.Signers))
	for i, s := range f.Signers {
		out[i] = dposconsensus.ElectedMiner{PubKey: s.PubKey(), VoteRank: uint32(i + 1)}
	}
	return out
}

// Round returns a fresh round with the signers in signer order.
// The first signer is both the round's extra block producer
// and the extra block producer of the previous round.
func (f *Fixture) Round(number, term uint64) *dposconsensus.Round {
	r := &dposconsensus.Round{
		Number:     number,
		TermNumber: term,
		RandomSeed: f.Seed,
	}
	for i, s := range f.Signers {
		r.Miners = append(r.Miners, dposconsensus.MinerInRound{
			PubKey:               s.PubKey(),
			Order:                uint32(i + 1),
			ExpectedMiningTime:   f.Start.Add(time.Duration(i+1) * f.Interval),
			IsExtraBlockProducer: i == 0,
		})
	}
	r.ExtraBlockProducerOfPreviousRound = f.Signers[0].PubKey()

	if err := r.Reindex(); err != nil {
		panic(err)
	}
	return r
}

// InValue returns a deterministic in value for the miner at idx in round number.
func (f *Fixture) InValue(number uint64, idx int) []byte {
	b := make([]byte, 32)
	b[0] = byte(number)
	b[1] = byte(idx)
	b[31] = 0x5a
	return b
}

// Commit sets the OutValue for the miner at idx in r from the fixture's in value,
// returning the in value.
func (f *Fixture) Commit(r *dposconsensus.Round, idx int) []byte {
	in := f.InValue(r.Number, idx)
	out, err := f.HashScheme.OutValue(in)
	if err != nil {
		panic(err)
	}
	m, ok := r.Miner(f.Signers[idx].PubKey())
	if !ok {
		panic("BUG: signer not in round")
	}
	m.OutValue = out
	return in
}
