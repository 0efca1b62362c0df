package dposconsensustest

import (
	"bytes"
	"fmt"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"golang.org/x/crypto/blake2b"
)

// SimpleHashScheme is a blake2b [dposconsensus.HashScheme]
// over a readable text serialization.
type SimpleHashScheme struct{}

func (SimpleHashScheme) OutValue(inValue []byte) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}
	fmt.Fprintf(hasher, "OutValue\nInValue=%x\n", inValue)
	return hasher.Sum(nil), nil
}

func (SimpleHashScheme) Signature(material, value []byte) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}
	fmt.Fprintf(hasher, "Signature\nMaterial=%x\nValue=%x\n", material, value)
	return hasher.Sum(nil), nil
}

func (SimpleHashScheme) Round(r *dposconsensus.Round) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}

	var ebp []byte
	if r.ExtraBlockProducerOfPreviousRound != nil {
		ebp = r.ExtraBlockProducerOfPreviousRound.PubKeyBytes()
	}

	fmt.Fprintf(hasher, `Round
Number=%d
Term=%d
ExtraBlockProducerOfPreviousRound=%x
ConfirmedIrreversibleBlockHeight=%d
ConfirmedIrreversibleBlockRoundNumber=%d
IsMinerListJustChanged=%t
RandomSeed=%x
`,
		r.Number, r.TermNumber,
		ebp,
		r.ConfirmedIrreversibleBlockHeight, r.ConfirmedIrreversibleBlockRoundNumber,
		r.IsMinerListJustChanged,
		r.RandomSeed,
	)

	// Miners is sorted by order, so writing in slice order is deterministic.
	var buf bytes.Buffer
	for _, m := range r.Miners {
		buf.Reset()
		for i, t := range m.ActualMiningTimes {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%d", t.UnixMilli())
		}
		actual := buf.String()

		fmt.Fprintf(hasher, `Miner
PubKey=%x
Order=%d
ExpectedMiningTime=%d
ActualMiningTimes=%s
OutValue=%x
PreviousInValue=%x
Signature=%x
ImpliedIrreversibleBlockHeight=%d
ProducedBlocks=%d
ProducedTinyBlocks=%d
MissedTimeSlots=%d
SupposedOrderOfNextRound=%d
FinalOrderOfNextRound=%d
IsExtraBlockProducer=%t
EncryptedPieces=%s
DecryptedPieces=%s
`,
			m.PubKey.PubKeyBytes(),
			m.Order,
			m.ExpectedMiningTime.UnixMilli(),
			actual,
			m.OutValue,
			m.PreviousInValue,
			m.Signature,
			m.ImpliedIrreversibleBlockHeight,
			m.ProducedBlocks,
			m.ProducedTinyBlocks,
			m.MissedTimeSlots,
			m.SupposedOrderOfNextRound,
			m.FinalOrderOfNextRound,
			m.IsExtraBlockProducer,
			pieceString(m.EncryptedPieces),
			pieceString(m.DecryptedPieces),
		)
	}

	return hasher.Sum(nil), nil
}

func pieceString(ps []dposconsensus.Piece) string {
	var buf bytes.Buffer
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d:%x", p.Index, p.Data)
	}
	return buf.String()
}
