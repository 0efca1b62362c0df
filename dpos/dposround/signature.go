package dposround

import (
	"encoding/binary"
	"fmt"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Signature returns the signature value a miner publishes in current.
//
// A miner revealing a previous in value signs it against the aggregate of
// the previous round's signatures (or the term's random seed if there is none).
// The in value was committed a round earlier, so it cannot be ground.
//
// A miner with nothing to reveal (the first round of a term, or a newly joined miner)
// has no committed value, so the signature is bound to the term's random seed and the
// miner's own key only. Previous may be nil.
func Signature(
	hs dposconsensus.HashScheme,
	previous, current *dposconsensus.Round,
	pubKey gcrypto.PubKey,
	previousInValue []byte,
) ([]byte, error) {
	if len(previousInValue) == 0 {
		if len(current.RandomSeed) == 0 {
			return nil, ErrMissingRandomSeed
		}
		return hs.Signature(current.RandomSeed, pubKey.PubKeyBytes())
	}

	var material []byte
	if previous != nil {
		material = previous.AggregateSignatures()
	}
	if len(material) == 0 {
		material = current.RandomSeed
	}
	if len(material) == 0 {
		return nil, ErrMissingRandomSeed
	}
	return hs.Signature(material, previousInValue)
}

// SignatureOrder maps a signature onto an order in 1..n.
// Signatures shorter than 8 bytes are zero-padded on the right.
func SignatureOrder(sig []byte, n int) uint32 {
	if n <= 0 {
		panic(fmt.Errorf("BUG: SignatureOrder called with %d miners", n))
	}
	var buf [8]byte
	copy(buf[:], sig)
	return uint32(binary.BigEndian.Uint64(buf[:])%uint64(n)) + 1
}
