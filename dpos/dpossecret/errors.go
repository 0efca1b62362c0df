package dpossecret

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// ErrNoPreviousRound is returned when a reveal is checked without a previous round.
var ErrNoPreviousRound = errors.New("no previous round to check reveal against")

// NoCommitmentError indicates that a reveal targets a miner
// that committed nothing in the previous round.
type NoCommitmentError struct {
	PubKey      gcrypto.PubKey
	RoundNumber uint64
}

func (e NoCommitmentError) Error() string {
	return fmt.Sprintf("%x made no commitment in round %d", hex(e.PubKey), e.RoundNumber)
}

// PreviousInValueMismatchError indicates that a revealed value
// does not hash to the target's commitment.
type PreviousInValueMismatchError struct {
	PubKey      gcrypto.PubKey
	RoundNumber uint64

	Want, Got glog.Hex
}

func (e PreviousInValueMismatchError) Error() string {
	return fmt.Sprintf(
		"revealed value for %x does not match its round %d commitment: want out value %x, got %x",
		hex(e.PubKey), e.RoundNumber, e.Want, e.Got,
	)
}

// PreviousInValueAlreadyRevealedError indicates a second write to a revealed slot.
type PreviousInValueAlreadyRevealedError struct {
	PubKey      gcrypto.PubKey
	RoundNumber uint64
}

func (e PreviousInValueAlreadyRevealedError) Error() string {
	return fmt.Sprintf("previous in value of %x already revealed in round %d", hex(e.PubKey), e.RoundNumber)
}

// ImpliedHeightRegressionError indicates a candidate implied irreversible height
// below the value already stored for the miner.
type ImpliedHeightRegressionError struct {
	PubKey gcrypto.PubKey

	Stored, Candidate uint64
}

func (e ImpliedHeightRegressionError) Error() string {
	return fmt.Sprintf(
		"implied irreversible height of %x would regress from %d to %d",
		hex(e.PubKey), e.Stored, e.Candidate,
	)
}

// UnsupportedKeyError is returned when pieces would be encrypted to a key type
// that has no corresponding curve point.
type UnsupportedKeyError struct {
	TypeName string
}

func (e UnsupportedKeyError) Error() string {
	return fmt.Sprintf("cannot encrypt secret pieces to %q public key", e.TypeName)
}

// InsufficientPiecesError is returned when too few pieces are available to recover a value.
type InsufficientPiecesError struct {
	Have, Need int
}

func (e InsufficientPiecesError) Error() string {
	return fmt.Sprintf("have %d pieces, need %d to recover in value", e.Have, e.Need)
}

func hex(pk gcrypto.PubKey) glog.Hex {
	if pk == nil {
		return nil
	}
	return pk.PubKeyBytes()
}
