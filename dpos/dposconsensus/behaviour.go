package dposconsensus

import "fmt"

// Behaviour tags what a block's consensus payload does.
type Behaviour uint8

const (
	// BehaviourNothing is never valid on the wire.
	// A consensus command uses it to mean "wait".
	BehaviourNothing Behaviour = iota

	// BehaviourUpdateValue publishes a miner's commitment, signature,
	// revealed previous in value, and implied irreversible height
	// for the first block in its time slot.
	BehaviourUpdateValue

	// BehaviourTinyBlock is any further block within the same slot.
	BehaviourTinyBlock

	// BehaviourNextRound terminates the round and carries the next round in the same term.
	BehaviourNextRound

	// BehaviourNextTerm terminates the round and carries the first round of the next term.
	BehaviourNextTerm
)

func (b Behaviour) String() string {
	switch b {
	case BehaviourNothing:
		return "Nothing"
	case BehaviourUpdateValue:
		return "UpdateValue"
	case BehaviourTinyBlock:
		return "TinyBlock"
	case BehaviourNextRound:
		return "NextRound"
	case BehaviourNextTerm:
		return "NextTerm"
	default:
		return fmt.Sprintf("Behaviour(%d)", uint8(b))
	}
}

// IsTermination reports whether b ends the current round.
func (b Behaviour) IsTermination() bool {
	return b == BehaviourNextRound || b == BehaviourNextTerm
}

// OnWire reports whether b may appear in an encoded payload.
func (b Behaviour) OnWire() bool {
	return b >= BehaviourUpdateValue && b <= BehaviourNextTerm
}
