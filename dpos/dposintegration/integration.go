package dposintegration

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
	"github.com/gordian-engine/gdpos/dpos/dposoracle"
	"github.com/gordian-engine/gdpos/dpos/dpossecret"
	"github.com/gordian-engine/gdpos/dpos/dpossim"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/gassert/gasserttest"
	"github.com/gordian-engine/gdpos/internal/gtest"
	"github.com/stretchr/testify/require"
)

// RunIntegrationTest runs every integration scenario
// against the stores and schemes created by nf.
func RunIntegrationTest(t *testing.T, nf NewFactoryFunc) {
	t.Run("nodes agree across rounds", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tn := newTestNet(ctx, t, nf, 4, 0)
		tn.runUntilRound(ctx, t, 5)

		wantH, wantR := tn.nodes[0].Engine.ImpliedLibHeight()
		require.NotZero(t, wantH)
		for _, n := range tn.nodes[1:] {
			h, r := n.Engine.ImpliedLibHeight()
			require.Equal(t, wantH, h, "node %s", n.Name)
			require.Equal(t, wantR, r, "node %s", n.Name)
		}
	})

	t.Run("silent miner's in value is recovered from pieces", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tn := newTestNet(ctx, t, nf, 4, 0)
		tn.runUntilRound(ctx, t, 2)

		// The order 2 miner has one slot before it to collect a piece
		// and one after it to recover the value.
		r2 := tn.nodes[0].Engine.CurrentRound()
		silent, ok := r2.MinerAtOrder(2)
		require.True(t, ok)
		tn.net.Silence(silent.PubKey.PubKeyBytes())

		tn.runUntilRound(ctx, t, 3)

		prev := tn.nodes[0].Engine.PreviousRound()
		require.Equal(t, uint64(2), prev.Number)
		pm, ok := prev.Miner(silent.PubKey)
		require.True(t, ok)
		require.False(t, pm.Mined())
		require.NotEmpty(t, pm.PreviousInValue)

		r1, err := tn.roundStores[0].LoadRound(ctx, 1)
		require.NoError(t, err)
		committed, ok := r1.Miner(silent.PubKey)
		require.True(t, ok)
		out, err := tn.fx.HashScheme.OutValue(pm.PreviousInValue)
		require.NoError(t, err)
		require.Equal(t, committed.OutValue, out)

		cur := tn.nodes[0].Engine.CurrentRound()
		cm, ok := cur.Miner(silent.PubKey)
		require.True(t, ok)
		require.Equal(t, uint64(1), cm.MissedTimeSlots)
	})

	t.Run("follower restarts from its stores", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tn := newTestNet(ctx, t, nf, 4, 1)
		tn.runUntilRound(ctx, t, 3)

		follower := tn.nodes[len(tn.nodes)-1]
		idx := len(tn.nodes) - 1
		before := follower.Engine.CurrentRound()

		restarted, err := dposengine.New(
			ctx,
			tn.log.With("sys", "engine", "idx", idx, "restarted", true),
			tn.engineOpts(idx)...,
		)
		require.NoError(t, err)
		require.Equal(t, before.Number, restarted.CurrentRound().Number)
		require.Equal(t, follower.Engine.Height(), restarted.Height())
		follower.Engine = restarted

		tn.runUntilRound(ctx, t, 5)
		require.Equal(t, uint64(5), restarted.CurrentRound().Number)
	})
}

type testNet struct {
	log *slog.Logger

	fx  *dposconsensustest.Fixture
	cfg dposconsensus.Config

	election dposoracle.StaticElection
	beacon   *dposoracle.KeyedBeacon

	hashSchemes []dposconsensus.HashScheme
	roundStores []dposstore.RoundStore
	finStores   []dposstore.FinalizationStore

	nodes []*dpossim.Node
	net   *dpossim.Network

	now time.Time
}

// newTestNet returns a network with one node per miner,
// followed by nFollowers nodes that do not produce.
func newTestNet(ctx context.Context, t *testing.T, nf NewFactoryFunc, nMiners, nFollowers int) *testNet {
	t.Helper()

	log := gtest.NewLogger(t)
	fx := dposconsensustest.NewEd25519Fixture(nMiners)

	f := nf(&Env{
		RootLogger: log,
		Registry:   &fx.Registry,

		tb: t,
	})

	beacon, err := dposoracle.NewKeyedBeacon([]byte("dposintegration randomness key 0"))
	require.NoError(t, err)

	tn := &testNet{
		log: log,

		fx: fx,
		cfg: dposconsensus.Config{
			MiningInterval:         fx.Interval,
			MaximumTinyBlocksCount: 2,
			GenesisTime:            fx.Start,
			SupposedMinersCount:    nMiners,
			MaximumMinersCount:     nMiners,
			MinerIncreaseInterval:  365 * 24 * time.Hour,
			Lib:                    dposconsensus.DefaultLibRule,
			KeepRounds:             4,
		},

		election: dposoracle.StaticElection{Default: fx.Elected()},
		beacon:   beacon,

		now: fx.Start,
	}

	nNodes := nMiners + nFollowers
	for i := range nNodes {
		hs, err := f.HashScheme(ctx, i)
		require.NoError(t, err)
		rs, err := f.NewRoundStore(ctx, i)
		require.NoError(t, err)
		fs, err := f.NewFinalizationStore(ctx, i)
		require.NoError(t, err)

		tn.hashSchemes = append(tn.hashSchemes, hs)
		tn.roundStores = append(tn.roundStores, rs)
		tn.finStores = append(tn.finStores, fs)

		e, err := dposengine.New(ctx, log.With("sys", "engine", "idx", i), tn.engineOpts(i)...)
		require.NoError(t, err)

		node := &dpossim.Node{Name: fmt.Sprintf("node%d", i), Engine: e}
		if i < nMiners {
			s := fx.Signers[i]
			key := dpossecret.PieceKeyFromEd25519Seed(s.Seed())
			node.Producers = []*dposengine.Producer{
				dposengine.NewProducer(log.With("sys", "producer", "idx", i), e, dposengine.ProducerConfig{
					PubKey:   s.PubKey(),
					PieceKey: &key,
				}),
			}
		}
		tn.nodes = append(tn.nodes, node)
	}

	tn.net = dpossim.NewNetwork(log.With("sys", "sim"), tn.nodes)
	return tn
}

func (tn *testNet) engineOpts(idx int) []dposengine.Opt {
	return []dposengine.Opt{
		dposengine.WithConfig(tn.cfg),
		dposengine.WithHashScheme(tn.hashSchemes[idx]),
		dposengine.WithRoundStore(tn.roundStores[idx]),
		dposengine.WithFinalizationStore(tn.finStores[idx]),
		dposengine.WithElection(tn.election),
		dposengine.WithRandomness(tn.beacon),
		dposengine.WithAssertEnv(gasserttest.DefaultEnv()),
	}
}

// runUntilRound advances virtual time in one second steps
// until the first node reaches round n.
func (tn *testNet) runUntilRound(ctx context.Context, t *testing.T, n uint64) {
	t.Helper()

	const step = time.Second
	e := tn.nodes[0].Engine
	deadline := tn.now.Add(time.Hour)

	err := tn.net.Run(ctx, tn.now, deadline, step, func() bool {
		tn.now = tn.now.Add(step)
		return e.CurrentRound().Number >= n
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, e.CurrentRound().Number, n, "round %d not reached by %s", n, deadline)
}
