package dposround

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// ApplySupposedOrder records supposed as both the supposed and the final
// next-round order of pubKey in r.
//
// Any other miner whose final order collides is moved to the next free order,
// wrapping around from N to 1.
// Occupancy is computed once per call, so the cost is linear in the miner count.
func ApplySupposedOrder(r *dposconsensus.Round, pubKey gcrypto.PubKey, supposed uint32) error {
	m, ok := r.Miner(pubKey)
	if !ok {
		return dposconsensus.NotMinerError{PubKey: pubKey, RoundNumber: r.Number}
	}

	n := uint32(len(r.Miners))
	if supposed == 0 || supposed > n {
		return InconsistentOrderError{PubKey: pubKey, Order: supposed, Reason: "out of range"}
	}

	m.SupposedOrderOfNextRound = supposed
	m.FinalOrderOfNextRound = supposed

	// Bit i is set when order i is held by some miner.
	occupied := bitset.New(uint(n) + 1)
	occupied.Set(uint(supposed))

	var conflicts []*dposconsensus.MinerInRound
	for i := range r.Miners {
		o := &r.Miners[i]
		if o.PubKey.Equal(pubKey) || o.FinalOrderOfNextRound == 0 {
			continue
		}
		if o.FinalOrderOfNextRound == supposed {
			conflicts = append(conflicts, o)
			continue
		}
		occupied.Set(uint(o.FinalOrderOfNextRound))
	}

	next := supposed
	for _, c := range conflicts {
		// At most N-1 orders are held by others, so a free order always exists.
		for {
			next = next%n + 1
			if !occupied.Test(uint(next)) {
				break
			}
		}
		occupied.Set(uint(next))
		c.FinalOrderOfNextRound = next
	}

	return nil
}
