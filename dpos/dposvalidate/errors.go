package dposvalidate

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// RejectionError is the only error type returned by [Pipeline.Validate].
type RejectionError struct {
	// Validator is the name of the validator that rejected the payload.
	Validator string

	Err error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("payload rejected by %s: %v", e.Validator, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

var (
	ErrMissingSenderUpdate   = errors.New("update value payload has no update for its sender")
	ErrEmptyCommitment       = errors.New("update value must carry an out value and a signature")
	ErrMissingReveal         = errors.New("miner committed in the previous round but reveals nothing")
	ErrTinyBlockUpdates      = errors.New("tiny block must not carry miner updates")
	ErrTinyBlockBeforeUpdate = errors.New("tiny block in own slot before the miner's update value")
	ErrNoExpectedRound       = errors.New("no locally generated round to compare against")
)

// RoundMismatchError indicates a payload for a round other than the current one.
type RoundMismatchError struct {
	WantRound, GotRound uint64
	WantTerm, GotTerm   uint64
}

func (e RoundMismatchError) Error() string {
	return fmt.Sprintf(
		"payload for round %d term %d does not apply to current round %d term %d",
		e.GotRound, e.GotTerm, e.WantRound, e.WantTerm,
	)
}

// HeightMismatchError indicates a payload for a block
// other than the one right after the last applied block.
type HeightMismatchError struct {
	Want, Got uint64
}

func (e HeightMismatchError) Error() string {
	return fmt.Sprintf("payload for height %d does not follow the last applied block; want height %d", e.Got, e.Want)
}

// MiningTimeRegressionError indicates a claimed time
// before the sender's latest recorded mining time in the current round.
type MiningTimeRegressionError struct {
	PubKey gcrypto.PubKey

	Latest, Claimed time.Time
}

func (e MiningTimeRegressionError) Error() string {
	return fmt.Sprintf(
		"claimed time %s for %x is before its latest mining time %s",
		e.Claimed.Format(time.RFC3339Nano), hex(e.PubKey), e.Latest.Format(time.RFC3339Nano),
	)
}

// ImpliedHeightAboveBlockError indicates an implied irreversible height
// above the height of the block that carries it.
type ImpliedHeightAboveBlockError struct {
	PubKey gcrypto.PubKey

	Implied, Height uint64
}

func (e ImpliedHeightAboveBlockError) Error() string {
	return fmt.Sprintf(
		"implied irreversible height %d for %x is above block height %d",
		e.Implied, hex(e.PubKey), e.Height,
	)
}

// SignatureMismatchError indicates that the sender's signature
// differs from the value every node derives independently.
type SignatureMismatchError struct {
	Want, Got glog.Hex
}

func (e SignatureMismatchError) Error() string {
	return fmt.Sprintf("signature mismatch: want %x, got %x", e.Want, e.Got)
}

// SupposedOrderMismatchError indicates a supposed next-round order
// that does not follow from the signature.
type SupposedOrderMismatchError struct {
	Want, Got uint32
}

func (e SupposedOrderMismatchError) Error() string {
	return fmt.Sprintf("supposed order of next round must be %d, got %d", e.Want, e.Got)
}

// OutValueChangedError indicates an attempt to replace a stored commitment.
type OutValueChangedError struct {
	PubKey gcrypto.PubKey
}

func (e OutValueChangedError) Error() string {
	return fmt.Sprintf("out value of %x is already committed", hex(e.PubKey))
}

// InvalidRelayError indicates an update for another miner that carries
// more than a revealed value and the sender's decrypted piece.
type InvalidRelayError struct {
	PubKey gcrypto.PubKey
	Reason string
}

func (e InvalidRelayError) Error() string {
	return fmt.Sprintf("invalid relayed update for %x: %s", hex(e.PubKey), e.Reason)
}

// InvalidPiecesError indicates malformed encrypted or decrypted pieces.
type InvalidPiecesError struct {
	PubKey gcrypto.PubKey
	Reason string
}

func (e InvalidPiecesError) Error() string {
	return fmt.Sprintf("invalid secret pieces for %x: %s", hex(e.PubKey), e.Reason)
}

// ConfirmedHeightRegressionError indicates a next round whose confirmed
// irreversible height is below the current one.
type ConfirmedHeightRegressionError struct {
	Stored, Candidate uint64
}

func (e ConfirmedHeightRegressionError) Error() string {
	return fmt.Sprintf("confirmed irreversible height would regress from %d to %d", e.Stored, e.Candidate)
}

// TerminationError describes a next round that does not follow from the current round.
type TerminationError struct {
	Reason string
}

func (e TerminationError) Error() string {
	return "invalid round termination: " + e.Reason
}

// NextRoundOrderError indicates that a miner's order in the next round
// disagrees with the final order it settled on in the current round.
type NextRoundOrderError struct {
	PubKey gcrypto.PubKey

	Want, Got uint32
}

func (e NextRoundOrderError) Error() string {
	return fmt.Sprintf("next round order of %x must be %d, got %d", hex(e.PubKey), e.Want, e.Got)
}

// RoundHashMismatchError indicates that the provided next round
// differs from the locally generated one.
type RoundHashMismatchError struct {
	Want, Got glog.Hex
}

func (e RoundHashMismatchError) Error() string {
	return fmt.Sprintf("next round hash mismatch: want %x, got %x", e.Want, e.Got)
}

func hex(pk gcrypto.PubKey) glog.Hex {
	if pk == nil {
		return nil
	}
	return pk.PubKeyBytes()
}
