// Package dpossecret manages the commit-reveal lifecycle of miner in values
// and the implied irreversible heights that ride along with them.
//
// Each round a miner commits OutValue = H(InValue)
// and reveals the InValue of the previous round as its PreviousInValue.
// Every write of a revealed value goes through the same hash check,
// whether the miner reveals its own value or another miner relays it.
//
// A miner that goes silent can still have its in value revealed:
// the in value is split with Shamir secret sharing when committed,
// one share encrypted to each other miner,
// and enough decrypted shares recover it in the following round.
package dpossecret
