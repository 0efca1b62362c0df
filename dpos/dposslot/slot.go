package dposslot

import "fmt"

// SlotKind distinguishes the windows a miner can produce in within one round.
type SlotKind uint8

const (
	SlotInvalid SlotKind = iota

	// SlotGap is the window before the round start,
	// reserved for the extra block producer of the previous round.
	SlotGap

	// SlotOrdinary is the miner's own time slot.
	SlotOrdinary

	// SlotTermination is the extra slot or an abnormal slot,
	// in which the round is terminated.
	SlotTermination
)

func (k SlotKind) String() string {
	switch k {
	case SlotInvalid:
		return "invalid"
	case SlotGap:
		return "gap"
	case SlotOrdinary:
		return "ordinary"
	case SlotTermination:
		return "termination"
	default:
		return fmt.Sprintf("SlotKind(%d)", uint8(k))
	}
}

// Slot identifies one production window.
type Slot struct {
	RoundNumber uint64
	Kind        SlotKind
}
