package dposintegration

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Env contains some of the primitives of the current test environment,
// to inform the creation of a [Factory].
type Env struct {
	// The RootLogger can be referenced when the Factory
	// needs a logger in a created value.
	RootLogger *slog.Logger

	// Registry decodes the public keys of every miner in the test.
	Registry *gcrypto.Registry

	// Inline interface to avoid directly depending on testing package.
	tb interface {
		Cleanup(func())

		TempDir() string
	}
}

// TempDir returns the path to a new temporary directory,
// in case the factory needs a place to write data to disk.
func (e *Env) TempDir() string {
	return e.tb.TempDir()
}

// Cleanup calls fn when the test is complete,
// regardless of whether the test passed or failed.
func (e *Env) Cleanup(fn func()) {
	e.tb.Cleanup(fn)
}

type NewFactoryFunc func(e *Env) Factory

// Factory creates the per-node dependencies of an integration test.
// The int argument is the index of the node.
type Factory interface {
	// The round and finalization stores for one node may be the same value.
	NewRoundStore(context.Context, int) (dposstore.RoundStore, error)
	NewFinalizationStore(context.Context, int) (dposstore.FinalizationStore, error)

	HashScheme(context.Context, int) (dposconsensus.HashScheme, error)
}
