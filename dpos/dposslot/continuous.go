package dposslot

import "github.com/gordian-engine/gdpos/gcrypto"

// ContinuousBlocks tracks the latest producer and how many blocks
// it has produced back to back within the same slot.
//
// It is a value type: [ContinuousBlocks.Record] returns the updated value
// so that a snapshot taken before validation is never changed by it.
// The zero value tracks nothing.
type ContinuousBlocks struct {
	PubKey gcrypto.PubKey
	Slot   Slot
	Count  int
}

// Check reports whether sender may produce one more block in slot
// without exceeding limit blocks.
// The count resets whenever the sender or the slot differs from the last block.
func (c ContinuousBlocks) Check(sender gcrypto.PubKey, slot Slot, limit int) error {
	if !c.same(sender, slot) {
		return nil
	}
	if c.Count >= limit {
		return ContinuousBlocksExceededError{PubKey: sender, Slot: slot, Limit: limit}
	}
	return nil
}

// Record returns c updated for one more block by sender in slot.
func (c ContinuousBlocks) Record(sender gcrypto.PubKey, slot Slot) ContinuousBlocks {
	if !c.same(sender, slot) {
		return ContinuousBlocks{PubKey: sender, Slot: slot, Count: 1}
	}
	c.Count++
	return c
}

func (c ContinuousBlocks) same(sender gcrypto.PubKey, slot Slot) bool {
	return c.PubKey != nil && c.PubKey.Equal(sender) && c.Slot == slot
}
