package dposengine

import (
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposmetrics"
	"github.com/gordian-engine/gdpos/dpos/dposoracle"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/gassert"
)

// Opt is an option for the Engine.
type Opt func(*Engine) error

// WithConfig sets the chain-wide consensus configuration.
// If omitted, [dposconsensus.DefaultConfig] is used.
func WithConfig(cfg dposconsensus.Config) Opt {
	return func(e *Engine) error {
		e.cfg = cfg
		return nil
	}
}

// WithHashScheme sets the engine's hash scheme.
// This option is required.
func WithHashScheme(hs dposconsensus.HashScheme) Opt {
	return func(e *Engine) error {
		e.hs = hs
		return nil
	}
}

// WithRoundStore sets the engine's round store.
// This option is required.
func WithRoundStore(s dposstore.RoundStore) Opt {
	return func(e *Engine) error {
		e.rs = s
		return nil
	}
}

// WithFinalizationStore sets the engine's finalization store.
// This option is required.
func WithFinalizationStore(s dposstore.FinalizationStore) Opt {
	return func(e *Engine) error {
		e.fs = s
		return nil
	}
}

// WithElection sets the oracle consulted for the miners of each new term.
// This option is required.
func WithElection(o dposoracle.ElectionOracle) Opt {
	return func(e *Engine) error {
		e.election = o
		return nil
	}
}

// WithRandomness sets the oracle providing each term's random seed.
// This option is required.
func WithRandomness(o dposoracle.RandomnessOracle) Opt {
	return func(e *Engine) error {
		e.randomness = o
		return nil
	}
}

// WithMetrics sets where the engine reports metrics.
// If omitted, no metrics are reported.
func WithMetrics(m *dposmetrics.Metrics) Opt {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithAssertEnv sets the engine's assertion environment.
// Assertions are only evaluated in builds with the debug tag.
func WithAssertEnv(env gassert.Env) Opt {
	return func(e *Engine) error {
		e.assertEnv = env
		return nil
	}
}
