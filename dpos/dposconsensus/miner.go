package dposconsensus

import (
	"bytes"
	"slices"
	"sort"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
)

// MinerInRound is one miner's slot and published values within a single [Round].
type MinerInRound struct {
	PubKey gcrypto.PubKey

	// Order is the 1-based position of the miner's time slot.
	Order uint32

	ExpectedMiningTime time.Time

	// Append-only within a round.
	ActualMiningTimes []time.Time

	// OutValue is the hash of InValue, committed this round.
	OutValue []byte

	// InValue is only ever set on the owning miner's node.
	// Codecs never encode it.
	InValue []byte

	// PreviousInValue is the revealed InValue of the previous round.
	// Its hash must equal this miner's OutValue in the previous round.
	PreviousInValue []byte

	Signature []byte

	ImpliedIrreversibleBlockHeight uint64

	ProducedBlocks     uint64
	ProducedTinyBlocks uint64
	MissedTimeSlots    uint64

	SupposedOrderOfNextRound uint32
	FinalOrderOfNextRound    uint32

	IsExtraBlockProducer bool

	// EncryptedPieces holds one share of this round's InValue per recipient,
	// indexed by the recipient's order in this round.
	EncryptedPieces []Piece

	// DecryptedPieces holds shares of this miner's previous-round InValue,
	// as decrypted and relayed by other miners,
	// indexed by the decrypting miner's order in the previous round.
	DecryptedPieces []Piece
}

// Mined reports whether m published a commitment this round.
func (m *MinerInRound) Mined() bool {
	return len(m.OutValue) > 0
}

// LatestActualMiningTime returns the last recorded production time,
// or the zero time if m has not produced.
func (m *MinerInRound) LatestActualMiningTime() time.Time {
	if len(m.ActualMiningTimes) == 0 {
		return time.Time{}
	}
	return m.ActualMiningTimes[len(m.ActualMiningTimes)-1]
}

// Clone returns a deep copy of m.
func (m MinerInRound) Clone() MinerInRound {
	c := m
	c.ActualMiningTimes = slices.Clone(m.ActualMiningTimes)
	c.OutValue = bytes.Clone(m.OutValue)
	c.InValue = bytes.Clone(m.InValue)
	c.PreviousInValue = bytes.Clone(m.PreviousInValue)
	c.Signature = bytes.Clone(m.Signature)
	c.EncryptedPieces = clonePieces(m.EncryptedPieces)
	c.DecryptedPieces = clonePieces(m.DecryptedPieces)
	return c
}

// Piece is one secret-sharing share, or its ciphertext,
// labeled with the 1-based share index.
type Piece struct {
	Index uint32
	Data  []byte
}

func clonePieces(ps []Piece) []Piece {
	if ps == nil {
		return nil
	}
	out := make([]Piece, len(ps))
	for i, p := range ps {
		out[i] = Piece{Index: p.Index, Data: bytes.Clone(p.Data)}
	}
	return out
}

// FindPiece returns the data at index idx in pieces, which must be sorted by index.
func FindPiece(pieces []Piece, idx uint32) ([]byte, bool) {
	i := sort.Search(len(pieces), func(i int) bool { return pieces[i].Index >= idx })
	if i < len(pieces) && pieces[i].Index == idx {
		return pieces[i].Data, true
	}
	return nil, false
}

// InsertPiece adds p to pieces, keeping them sorted by index.
// If a piece with the same index is already present, pieces is returned unchanged
// along with false.
func InsertPiece(pieces []Piece, p Piece) ([]Piece, bool) {
	i := sort.Search(len(pieces), func(i int) bool { return pieces[i].Index >= p.Index })
	if i < len(pieces) && pieces[i].Index == p.Index {
		return pieces, false
	}
	return slices.Insert(pieces, i, p), true
}
