package dposconsensus

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/gordian-engine/gdpos/gcrypto"
)

// ElectedMiner is one entry of an election result.
// VoteRank 1 is the candidate with the most votes.
type ElectedMiner struct {
	PubKey   gcrypto.PubKey
	VoteRank uint32
}

// SortElected sorts ms in place by vote rank ascending,
// breaking ties by comparing the full public key bytes.
//
// Encoded public keys often share a constant leading prefix,
// so comparing only a leading byte would leave the order
// up to whatever order ms happened to arrive in.
func SortElected(ms []ElectedMiner) {
	slices.SortStableFunc(ms, func(a, b ElectedMiner) int {
		if c := cmp.Compare(a.VoteRank, b.VoteRank); c != 0 {
			return c
		}
		return bytes.Compare(a.PubKey.PubKeyBytes(), b.PubKey.PubKeyBytes())
	})
}
