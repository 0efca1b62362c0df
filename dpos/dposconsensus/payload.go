package dposconsensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
)

// Payload is the consensus data attached to a block.
type Payload struct {
	Behaviour Behaviour

	// Height is the height of the block carrying the payload.
	Height uint64

	// RoundNumber and TermNumber identify the round the payload applies to.
	// For terminations, that is the round being terminated.
	RoundNumber uint64
	TermNumber  uint64

	Sender      gcrypto.PubKey
	ClaimedTime time.Time

	// Updates is empty for terminations.
	// For UpdateValue, the sender's own entry carries its full update;
	// entries for other miners may only relay revealed previous in values
	// and decrypted pieces.
	Updates []MinerUpdate

	// NextRound is set only for terminations.
	NextRound *Round
}

// MinerUpdate is the change a payload makes to one miner's entry.
type MinerUpdate struct {
	PubKey gcrypto.PubKey

	OutValue        []byte
	Signature       []byte
	PreviousInValue []byte

	ImpliedIrreversibleBlockHeight uint64
	SupposedOrderOfNextRound       uint32

	EncryptedPieces []Piece
	DecryptedPieces []Piece
}

// IsRelay reports whether u only carries values relayed on another miner's behalf.
func (u MinerUpdate) IsRelay() bool {
	return len(u.OutValue) == 0 &&
		len(u.Signature) == 0 &&
		u.ImpliedIrreversibleBlockHeight == 0 &&
		u.SupposedOrderOfNextRound == 0 &&
		len(u.EncryptedPieces) == 0
}

// Update returns the entry for pubKey in p.Updates.
func (p Payload) Update(pubKey gcrypto.PubKey) (*MinerUpdate, bool) {
	for i := range p.Updates {
		if p.Updates[i].PubKey.Equal(pubKey) {
			return &p.Updates[i], true
		}
	}
	return nil, false
}

// CheckShape reports structural problems with p
// that do not depend on any round state.
func (p Payload) CheckShape() error {
	if !p.Behaviour.OnWire() {
		return fmt.Errorf("invalid payload behaviour %s", p.Behaviour)
	}
	if p.Sender == nil {
		return errors.New("payload has no sender")
	}
	if p.ClaimedTime.IsZero() {
		return errors.New("payload has no claimed time")
	}

	if p.Behaviour.IsTermination() {
		if p.NextRound == nil {
			return fmt.Errorf("%s payload has no next round", p.Behaviour)
		}
		if len(p.Updates) > 0 {
			return fmt.Errorf("%s payload must not carry miner updates", p.Behaviour)
		}
		return nil
	}

	if p.NextRound != nil {
		return fmt.Errorf("%s payload must not carry a next round", p.Behaviour)
	}

	seen := make(map[string]struct{}, len(p.Updates))
	for _, u := range p.Updates {
		if u.PubKey == nil {
			return errors.New("miner update has no public key")
		}
		k := string(u.PubKey.PubKeyBytes())
		if _, ok := seen[k]; ok {
			return DuplicateMinerError{PubKey: u.PubKey}
		}
		seen[k] = struct{}{}
	}
	return nil
}
