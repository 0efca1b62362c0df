package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gordian-engine/gdpos/cmd/internal/gcmd"
	"github.com/gordian-engine/gdpos/dpos/dposcodec/dposjson"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
	"github.com/gordian-engine/gdpos/dpos/dposstore/dposmemstore"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

func NewRootCmd(log *slog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "gdpos SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		Long: `gdpos runs delegated proof of stake consensus over a chain described in a TOML file.

Miner keys are derived from insecure passphrases, so this tool is only suitable for
local experiments. A minimal chain file looks like:

    genesis_time = 2024-01-01T00:00:00Z
    mining_interval = "4s"

    [[miners]]
    passphrase = "alice"

    [[miners]]
    passphrase = "bob"

Print a miner's public key with:

    $ gdpos miner-pubkey alice

Then print the genesis round, or simulate the chain in virtual time:

    $ gdpos genesis chain.toml
    $ gdpos simulate chain.toml --rounds 10 --http 127.0.0.1:8080
`,

		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newMinerPubKeyCmd(log),
		newGenesisCmd(log),
		newSimulateCmd(log),
	)

	return rootCmd
}

func newMinerPubKeyCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "miner-pubkey PASSPHRASE",

		Short: "Print the hex-encoded miner public key derived from the given insecure passphrase",

		Long: `miner-pubkey prints the registry encoding of the key, as accepted by the HTTP API.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := gcmd.SignerFromInsecurePassphrase(keyPrefix, args[0])
			if err != nil {
				return fmt.Errorf("failed to derive key: %w", err)
			}

			reg := newRegistry()
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(reg.Marshal(signer.PubKey())))
			return nil
		},
	}
}

func newGenesisCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "genesis CHAIN.toml",

		Short: "Print the genesis round of the given chain as JSON",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := loadChain(args[0])
			if err != nil {
				return err
			}

			e, err := dposengine.New(ctx, log.With("sys", "engine"), engineOpts(c)...)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}

			return printRound(cmd, newRegistry(), e.CurrentRound())
		},
	}
}

func newRegistry() *gcrypto.Registry {
	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)
	return reg
}

// engineOpts returns the options for an engine over c backed by in-memory stores.
// Later options override earlier ones.
func engineOpts(c chain, extra ...dposengine.Opt) []dposengine.Opt {
	return append([]dposengine.Opt{
		dposengine.WithConfig(c.Config),
		dposengine.WithHashScheme(dposconsensustest.SimpleHashScheme{}),
		dposengine.WithRoundStore(dposmemstore.NewRoundStore()),
		dposengine.WithFinalizationStore(dposmemstore.NewFinalizationStore()),
		dposengine.WithElection(staticElection(c)),
		dposengine.WithRandomness(c.Randomness),
	}, extra...)
}

func printRound(cmd *cobra.Command, reg *gcrypto.Registry, r *dposconsensus.Round) error {
	b, err := dposjson.MarshalCodec{CryptoRegistry: reg}.MarshalRound(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return fmt.Errorf("failed to indent round: %w", err)
	}
	buf.WriteByte('\n')

	// Logs go to stderr, but the round goes to stdout.
	_, err = buf.WriteTo(cmd.OutOrStdout())
	return err
}
