package dposenginetest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
	"github.com/gordian-engine/gdpos/dpos/dposoracle"
	"github.com/gordian-engine/gdpos/dpos/dpossecret"
	"github.com/gordian-engine/gdpos/dpos/dposstore/dposmemstore"
	"github.com/gordian-engine/gdpos/gassert/gasserttest"
	"github.com/gordian-engine/gdpos/internal/gtest"
)

// Fixture wires an engine to in-memory stores and static oracles
// over the miners of a [dposconsensustest.Fixture].
type Fixture struct {
	Log *slog.Logger

	Fx *dposconsensustest.Fixture

	Config dposconsensus.Config

	Election   dposoracle.StaticElection
	Randomness *dposoracle.KeyedBeacon

	RoundStore        *dposmemstore.RoundStore
	FinalizationStore *dposmemstore.FinalizationStore
}

// NewFixture returns a fixture with nMiners miners.
// Term changes are disabled in the returned config;
// set Config.TermPeriod to enable them.
func NewFixture(t *testing.T, nMiners int) *Fixture {
	fx := dposconsensustest.NewEd25519Fixture(nMiners)

	beacon, err := dposoracle.NewKeyedBeacon([]byte("dposenginetest randomness key 32"))
	if err != nil {
		t.Fatal(err)
	}

	return &Fixture{
		Log: gtest.NewLogger(t),

		Fx: fx,

		Config: dposconsensus.Config{
			MiningInterval:         fx.Interval,
			MaximumTinyBlocksCount: 2,
			GenesisTime:            fx.Start,
			SupposedMinersCount:    nMiners,
			MaximumMinersCount:     nMiners,
			MinerIncreaseInterval:  365 * 24 * time.Hour,
			Lib:                    dposconsensus.DefaultLibRule,
		},

		Election:   dposoracle.StaticElection{Default: fx.Elected()},
		Randomness: beacon,

		RoundStore:        dposmemstore.NewRoundStore(),
		FinalizationStore: dposmemstore.NewFinalizationStore(),
	}
}

// EngineOpts returns the options for an engine using the fixture's
// config, stores, and oracles.
func (f *Fixture) EngineOpts() []dposengine.Opt {
	return []dposengine.Opt{
		dposengine.WithConfig(f.Config),
		dposengine.WithHashScheme(f.Fx.HashScheme),
		dposengine.WithRoundStore(f.RoundStore),
		dposengine.WithFinalizationStore(f.FinalizationStore),
		dposengine.WithElection(f.Election),
		dposengine.WithRandomness(f.Randomness),
		dposengine.WithAssertEnv(gasserttest.DefaultEnv()),
	}
}

// NewEngine returns an engine built from [Fixture.EngineOpts] and extra.
// The test fails if the engine cannot be created.
func (f *Fixture) NewEngine(ctx context.Context, t *testing.T, extra ...dposengine.Opt) *dposengine.Engine {
	t.Helper()

	e, err := dposengine.New(ctx, f.Log.With("sys", "engine"), append(f.EngineOpts(), extra...)...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

// Producer returns a producer for the fixture miner at idx,
// able to decrypt the pieces addressed to it.
func (f *Fixture) Producer(e *dposengine.Engine, idx int) *dposengine.Producer {
	s := f.Fx.Signers[idx]
	key := dpossecret.PieceKeyFromEd25519Seed(s.Seed())
	return dposengine.NewProducer(
		f.Log.With("sys", "producer", "idx", idx),
		e,
		dposengine.ProducerConfig{PubKey: s.PubKey(), PieceKey: &key},
	)
}

// SlotStart returns the expected mining time of the miner at idx
// in the engine's current round.
func SlotStart(t *testing.T, e *dposengine.Engine, pubKeyIdx int, fx *dposconsensustest.Fixture) time.Time {
	t.Helper()

	r := e.CurrentRound()
	m, ok := r.Miner(fx.Signers[pubKeyIdx].PubKey())
	if !ok {
		t.Fatalf("miner %d is not in round %d", pubKeyIdx, r.Number)
	}
	return m.ExpectedMiningTime
}
