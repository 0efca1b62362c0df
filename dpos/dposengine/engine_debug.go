//go:build debug

package dposengine

import (
	"bytes"
	"fmt"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gassert"
)

func invariantLibMonotonic(env gassert.Env, stored, candidate uint64) {
	if env == nil || !env.Enabled("dposengine.lib.monotonic") {
		return
	}

	if candidate < stored {
		env.HandleAssertionFailure(fmt.Errorf(
			"irreversible height regressed from %d to %d", stored, candidate,
		))
	}
}

// invariantRevealsBound asserts that every previous in value stored in r
// hashes to the owner's commitment in previous.
func invariantRevealsBound(env gassert.Env, hs dposconsensus.HashScheme, previous, r *dposconsensus.Round) {
	if env == nil || !env.Enabled("dposengine.reveals.bound") {
		return
	}

	for i := range r.Miners {
		m := &r.Miners[i]
		if len(m.PreviousInValue) == 0 {
			continue
		}
		if previous == nil {
			env.HandleAssertionFailure(fmt.Errorf(
				"round %d has a revealed value for %x but no previous round", r.Number, m.PubKey.PubKeyBytes(),
			))
			continue
		}
		pm, ok := previous.Miner(m.PubKey)
		if !ok {
			env.HandleAssertionFailure(fmt.Errorf(
				"round %d reveals a value for %x, who was not a miner in round %d",
				r.Number, m.PubKey.PubKeyBytes(), previous.Number,
			))
			continue
		}
		out, err := hs.OutValue(m.PreviousInValue)
		if err != nil {
			env.HandleAssertionFailure(fmt.Errorf("failed to hash revealed value: %w", err))
			continue
		}
		if !bytes.Equal(out, pm.OutValue) {
			env.HandleAssertionFailure(fmt.Errorf(
				"revealed value for %x in round %d does not match its commitment", m.PubKey.PubKeyBytes(), r.Number,
			))
		}
	}
}

// invariantOrdersContiguous asserts that the miners of r
// hold exactly the orders 1 through len(r.Miners).
func invariantOrdersContiguous(env gassert.Env, r *dposconsensus.Round) {
	if env == nil || !env.Enabled("dposengine.orders.contiguous") {
		return
	}

	seen := make([]bool, len(r.Miners)+1)
	for i := range r.Miners {
		o := r.Miners[i].Order
		if o == 0 || int(o) > len(r.Miners) || seen[o] {
			env.HandleAssertionFailure(fmt.Errorf(
				"round %d has duplicate or out of range order %d for %x",
				r.Number, o, r.Miners[i].PubKey.PubKeyBytes(),
			))
			continue
		}
		seen[o] = true
	}
}
