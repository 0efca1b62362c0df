package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/gordian-engine/gdpos/cmd/internal/gcmd"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
	"github.com/gordian-engine/gdpos/dpos/dposhttp"
	"github.com/gordian-engine/gdpos/dpos/dposmetrics"
	"github.com/gordian-engine/gdpos/dpos/dpossim"
	"github.com/gordian-engine/gdpos/dpos/dpossqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type simulateFlags struct {
	Rounds  uint64
	Offline []string
	DBPath  string
	HTTP    string
}

func newSimulateCmd(log *slog.Logger) *cobra.Command {
	var flags simulateFlags

	cmd := &cobra.Command{
		Use: "simulate CHAIN.toml",

		Short: "Run every miner of the chain in virtual time and print the final round",

		Long: `simulate runs one node per miner in the chain file.
Every payload a miner produces is delivered to all nodes, and the nodes must agree
on the current round after every step.

Time is virtual: the simulation starts at the genesis time and advances
as fast as the nodes can process payloads.

The first node's state is exposed over HTTP when --http is set,
in which case the command keeps serving until interrupted.
`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadChain(args[0])
			if err != nil {
				return err
			}
			return runSimulation(cmd, log, c, flags)
		},
	}

	flags.register(cmd.Flags())

	return cmd
}

func (f *simulateFlags) register(fs *pflag.FlagSet) {
	fs.Uint64Var(&f.Rounds, "rounds", 5, "number of rounds to complete")
	fs.StringArrayVar(&f.Offline, "offline", nil, "passphrase of a miner that never produces (may be repeated)")
	fs.StringVar(&f.DBPath, "db", "", "path of a new SQLite database holding the first node's rounds")
	fs.StringVar(&f.HTTP, "http", "", "address to serve the first node's HTTP API on after the simulation")
}

func runSimulation(cmd *cobra.Command, log *slog.Logger, c chain, flags simulateFlags) error {
	ctx := cmd.Context()
	reg := newRegistry()
	hs := dposconsensustest.SimpleHashScheme{}

	if flags.Rounds == 0 {
		return errors.New("--rounds must be positive")
	}

	var firstOpts []dposengine.Opt

	if flags.DBPath != "" {
		if _, err := os.Stat(flags.DBPath); err == nil {
			return fmt.Errorf("refusing to reuse existing database %q", flags.DBPath)
		}
		s, err := dpossqlite.NewOnDiskStore(ctx, flags.DBPath, hs, reg)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() {
			if err := s.Close(); err != nil {
				log.Warn("Failed to close database", "err", err)
			}
		}()
		firstOpts = append(firstOpts, dposengine.WithRoundStore(s), dposengine.WithFinalizationStore(s))
	}

	var promReg *prometheus.Registry
	if flags.HTTP != "" {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector())
		m, err := dposmetrics.New(promReg)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		firstOpts = append(firstOpts, dposengine.WithMetrics(m))
	}

	nodes := make([]*dpossim.Node, len(c.Signers))
	for i, s := range c.Signers {
		nodeLog := log.With("node", i)

		opts := engineOpts(c)
		if i == 0 {
			opts = append(opts, firstOpts...)
		}
		e, err := dposengine.New(ctx, nodeLog.With("sys", "engine"), opts...)
		if err != nil {
			return fmt.Errorf("failed to create engine for node %d: %w", i, err)
		}

		pieceKey := gcmd.PieceKeyFromSigner(s)
		nodes[i] = &dpossim.Node{
			Name:   fmt.Sprintf("node-%d", i),
			Engine: e,
			Producers: []*dposengine.Producer{
				dposengine.NewProducer(nodeLog.With("sys", "producer"), e, dposengine.ProducerConfig{
					PubKey:   s.PubKey(),
					PieceKey: &pieceKey,
				}),
			},
		}
	}

	sim := dpossim.NewNetwork(log.With("sys", "sim"), nodes)
	for _, p := range flags.Offline {
		idx, err := c.signerIndex(p)
		if err != nil {
			return fmt.Errorf("invalid --offline value: %w", err)
		}
		sim.Silence(c.Signers[idx].PubKey().PubKeyBytes())
	}

	first := nodes[0].Engine
	target := first.CurrentRound().Number + flags.Rounds

	// Generous bound on virtual time, so a stalled chain still terminates.
	interval := c.Config.MiningInterval
	perRound := time.Duration(c.Config.MaximumMinersCount+2) * interval
	start := c.Config.GenesisTime
	end := start.Add(time.Duration(flags.Rounds+1) * 2 * perRound)
	step := max(interval/4, time.Millisecond)

	if err := sim.Run(ctx, start, end, step, func() bool {
		return first.CurrentRound().Number >= target
	}); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	r := first.CurrentRound()
	libHeight, libRound := first.ImpliedLibHeight()
	if r.Number < target {
		return fmt.Errorf("chain stalled at round %d before reaching round %d", r.Number, target)
	}
	log.Info(
		"Simulation complete",
		"round", r.Number,
		"term", r.TermNumber,
		"height", sim.Height(),
		"lib_height", libHeight,
		"lib_round", libRound,
	)

	if err := printRound(cmd, reg, r); err != nil {
		return err
	}

	if flags.HTTP == "" {
		return nil
	}

	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", flags.HTTP)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", flags.HTTP, err)
	}
	h := dposhttp.NewHTTPServer(ctx, log.With("sys", "http"), dposhttp.HTTPServerConfig{
		Listener:       ln,
		Engine:         first,
		CryptoRegistry: reg,
		Gatherer:       promReg,
	})
	log.Info("Serving HTTP API", "addr", ln.Addr().String())

	<-ctx.Done()
	log.Info("Received ^c")
	h.Wait()

	return nil
}
