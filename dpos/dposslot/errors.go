package dposslot

import (
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// GapWindowViolationError is returned when a miner produces before its own slot
// without being entitled to the gap before the round start.
type GapWindowViolationError struct {
	PubKey gcrypto.PubKey

	RoundNumber    uint64
	ClaimedTime    time.Time
	RoundStartTime time.Time
}

func (e GapWindowViolationError) Error() string {
	return fmt.Sprintf(
		"%x may not produce at %s before its slot in round %d (round starts %s)",
		hex(e.PubKey), e.ClaimedTime.Format(time.RFC3339Nano), e.RoundNumber, e.RoundStartTime.Format(time.RFC3339Nano),
	)
}

// TimeSlotPassedError is returned when a miner produces after its ordinary slot ended.
type TimeSlotPassedError struct {
	PubKey gcrypto.PubKey

	RoundNumber uint64
	ClaimedTime time.Time
	SlotEnd     time.Time
}

func (e TimeSlotPassedError) Error() string {
	return fmt.Sprintf(
		"time slot of %x in round %d ended at %s, claimed %s",
		hex(e.PubKey), e.RoundNumber, e.SlotEnd.Format(time.RFC3339Nano), e.ClaimedTime.Format(time.RFC3339Nano),
	)
}

// TerminationNotAllowedError is returned when a miner attempts to terminate a round
// outside both the extra slot and its own abnormal slot.
type TerminationNotAllowedError struct {
	PubKey gcrypto.PubKey

	RoundNumber uint64
	ClaimedTime time.Time

	// NextAllowed is the start of the sender's next abnormal slot.
	NextAllowed time.Time
}

func (e TerminationNotAllowedError) Error() string {
	return fmt.Sprintf(
		"%x may not terminate round %d at %s (next abnormal slot at %s)",
		hex(e.PubKey), e.RoundNumber, e.ClaimedTime.Format(time.RFC3339Nano), e.NextAllowed.Format(time.RFC3339Nano),
	)
}

// ContinuousBlocksExceededError is returned when a miner has used up
// its block budget within a single slot.
type ContinuousBlocksExceededError struct {
	PubKey gcrypto.PubKey
	Slot   Slot
	Limit  int
}

func (e ContinuousBlocksExceededError) Error() string {
	return fmt.Sprintf(
		"%x already produced %d blocks in the %s slot of round %d",
		hex(e.PubKey), e.Limit, e.Slot.Kind, e.Slot.RoundNumber,
	)
}

func hex(pk gcrypto.PubKey) glog.Hex {
	if pk == nil {
		return nil
	}
	return pk.PubKeyBytes()
}
