package dposcodec

import (
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// WireRound is a [dposconsensus.Round] reduced to plain data.
type WireRound struct {
	Number     uint64
	TermNumber uint64

	Miners []WireMiner

	ExtraBlockProducerOfPreviousRound []byte

	ConfirmedIrreversibleBlockHeight      uint64
	ConfirmedIrreversibleBlockRoundNumber uint64

	IsMinerListJustChanged bool

	RandomSeed []byte
}

// WireMiner is a [dposconsensus.MinerInRound] without its in value.
type WireMiner struct {
	PubKey []byte
	Order  uint32

	// Unix milliseconds.
	ExpectedMiningTime int64
	ActualMiningTimes  []int64

	OutValue        []byte
	PreviousInValue []byte
	Signature       []byte

	ImpliedIrreversibleBlockHeight uint64

	ProducedBlocks     uint64
	ProducedTinyBlocks uint64
	MissedTimeSlots    uint64

	SupposedOrderOfNextRound uint32
	FinalOrderOfNextRound    uint32

	IsExtraBlockProducer bool

	EncryptedPieces []WirePiece
	DecryptedPieces []WirePiece
}

type WirePiece struct {
	Index uint32
	Data  []byte
}

// WirePayload is a [dposconsensus.Payload] reduced to plain data.
type WirePayload struct {
	Behaviour   uint8
	Height      uint64
	RoundNumber uint64
	TermNumber  uint64

	Sender      []byte
	ClaimedTime int64

	Updates []WireUpdate

	NextRound *WireRound
}

type WireUpdate struct {
	PubKey []byte

	OutValue        []byte
	Signature       []byte
	PreviousInValue []byte

	ImpliedIrreversibleBlockHeight uint64
	SupposedOrderOfNextRound       uint32

	EncryptedPieces []WirePiece
	DecryptedPieces []WirePiece
}

// ToWireRound converts r, using reg to encode public keys.
func ToWireRound(r *dposconsensus.Round, reg *gcrypto.Registry) WireRound {
	w := WireRound{
		Number:     r.Number,
		TermNumber: r.TermNumber,

		Miners: make([]WireMiner, len(r.Miners)),

		ConfirmedIrreversibleBlockHeight:      r.ConfirmedIrreversibleBlockHeight,
		ConfirmedIrreversibleBlockRoundNumber: r.ConfirmedIrreversibleBlockRoundNumber,

		IsMinerListJustChanged: r.IsMinerListJustChanged,

		RandomSeed: nonEmpty(r.RandomSeed),
	}
	if r.ExtraBlockProducerOfPreviousRound != nil {
		w.ExtraBlockProducerOfPreviousRound = reg.Marshal(r.ExtraBlockProducerOfPreviousRound)
	}

	for i := range r.Miners {
		m := &r.Miners[i]
		wm := WireMiner{
			PubKey: reg.Marshal(m.PubKey),
			Order:  m.Order,

			ExpectedMiningTime: toMillis(m.ExpectedMiningTime),

			OutValue:        nonEmpty(m.OutValue),
			PreviousInValue: nonEmpty(m.PreviousInValue),
			Signature:       nonEmpty(m.Signature),

			ImpliedIrreversibleBlockHeight: m.ImpliedIrreversibleBlockHeight,

			ProducedBlocks:     m.ProducedBlocks,
			ProducedTinyBlocks: m.ProducedTinyBlocks,
			MissedTimeSlots:    m.MissedTimeSlots,

			SupposedOrderOfNextRound: m.SupposedOrderOfNextRound,
			FinalOrderOfNextRound:    m.FinalOrderOfNextRound,

			IsExtraBlockProducer: m.IsExtraBlockProducer,

			EncryptedPieces: toWirePieces(m.EncryptedPieces),
			DecryptedPieces: toWirePieces(m.DecryptedPieces),
		}
		if len(m.ActualMiningTimes) > 0 {
			wm.ActualMiningTimes = make([]int64, len(m.ActualMiningTimes))
			for j, t := range m.ActualMiningTimes {
				wm.ActualMiningTimes[j] = toMillis(t)
			}
		}
		w.Miners[i] = wm
	}

	return w
}

// ToRound converts w back to a reindexed round.
func (w WireRound) ToRound(reg *gcrypto.Registry) (*dposconsensus.Round, error) {
	r := &dposconsensus.Round{
		Number:     w.Number,
		TermNumber: w.TermNumber,

		Miners: make([]dposconsensus.MinerInRound, len(w.Miners)),

		ConfirmedIrreversibleBlockHeight:      w.ConfirmedIrreversibleBlockHeight,
		ConfirmedIrreversibleBlockRoundNumber: w.ConfirmedIrreversibleBlockRoundNumber,

		IsMinerListJustChanged: w.IsMinerListJustChanged,

		RandomSeed: nonEmpty(w.RandomSeed),
	}

	if len(w.ExtraBlockProducerOfPreviousRound) > 0 {
		pk, err := reg.Unmarshal(w.ExtraBlockProducerOfPreviousRound)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal previous extra block producer: %w", err)
		}
		r.ExtraBlockProducerOfPreviousRound = pk
	}

	for i, wm := range w.Miners {
		pk, err := reg.Unmarshal(wm.PubKey)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal public key of miner %d: %w", i, err)
		}

		m := dposconsensus.MinerInRound{
			PubKey: pk,
			Order:  wm.Order,

			ExpectedMiningTime: fromMillis(wm.ExpectedMiningTime),

			OutValue:        nonEmpty(wm.OutValue),
			PreviousInValue: nonEmpty(wm.PreviousInValue),
			Signature:       nonEmpty(wm.Signature),

			ImpliedIrreversibleBlockHeight: wm.ImpliedIrreversibleBlockHeight,

			ProducedBlocks:     wm.ProducedBlocks,
			ProducedTinyBlocks: wm.ProducedTinyBlocks,
			MissedTimeSlots:    wm.MissedTimeSlots,

			SupposedOrderOfNextRound: wm.SupposedOrderOfNextRound,
			FinalOrderOfNextRound:    wm.FinalOrderOfNextRound,

			IsExtraBlockProducer: wm.IsExtraBlockProducer,

			EncryptedPieces: fromWirePieces(wm.EncryptedPieces),
			DecryptedPieces: fromWirePieces(wm.DecryptedPieces),
		}
		if len(wm.ActualMiningTimes) > 0 {
			m.ActualMiningTimes = make([]time.Time, len(wm.ActualMiningTimes))
			for j, ms := range wm.ActualMiningTimes {
				m.ActualMiningTimes[j] = fromMillis(ms)
			}
		}
		r.Miners[i] = m
	}

	if err := r.Reindex(); err != nil {
		return nil, fmt.Errorf("decoded invalid round %d: %w", r.Number, err)
	}
	return r, nil
}

// ToWirePayload converts p, using reg to encode public keys.
func ToWirePayload(p dposconsensus.Payload, reg *gcrypto.Registry) WirePayload {
	w := WirePayload{
		Behaviour:   uint8(p.Behaviour),
		Height:      p.Height,
		RoundNumber: p.RoundNumber,
		TermNumber:  p.TermNumber,

		ClaimedTime: toMillis(p.ClaimedTime),
	}
	if p.Sender != nil {
		w.Sender = reg.Marshal(p.Sender)
	}

	if len(p.Updates) > 0 {
		w.Updates = make([]WireUpdate, len(p.Updates))
		for i, u := range p.Updates {
			w.Updates[i] = WireUpdate{
				PubKey: reg.Marshal(u.PubKey),

				OutValue:        nonEmpty(u.OutValue),
				Signature:       nonEmpty(u.Signature),
				PreviousInValue: nonEmpty(u.PreviousInValue),

				ImpliedIrreversibleBlockHeight: u.ImpliedIrreversibleBlockHeight,
				SupposedOrderOfNextRound:       u.SupposedOrderOfNextRound,

				EncryptedPieces: toWirePieces(u.EncryptedPieces),
				DecryptedPieces: toWirePieces(u.DecryptedPieces),
			}
		}
	}

	if p.NextRound != nil {
		nr := ToWireRound(p.NextRound, reg)
		w.NextRound = &nr
	}

	return w
}

// ToPayload converts w back to a payload.
// Structural checks are left to [dposconsensus.Payload.CheckShape].
func (w WirePayload) ToPayload(reg *gcrypto.Registry) (dposconsensus.Payload, error) {
	p := dposconsensus.Payload{
		Behaviour:   dposconsensus.Behaviour(w.Behaviour),
		Height:      w.Height,
		RoundNumber: w.RoundNumber,
		TermNumber:  w.TermNumber,

		ClaimedTime: fromMillis(w.ClaimedTime),
	}

	if len(w.Sender) > 0 {
		pk, err := reg.Unmarshal(w.Sender)
		if err != nil {
			return dposconsensus.Payload{}, fmt.Errorf("failed to unmarshal sender: %w", err)
		}
		p.Sender = pk
	}

	if len(w.Updates) > 0 {
		p.Updates = make([]dposconsensus.MinerUpdate, len(w.Updates))
		for i, wu := range w.Updates {
			pk, err := reg.Unmarshal(wu.PubKey)
			if err != nil {
				return dposconsensus.Payload{}, fmt.Errorf("failed to unmarshal public key of update %d: %w", i, err)
			}
			p.Updates[i] = dposconsensus.MinerUpdate{
				PubKey: pk,

				OutValue:        nonEmpty(wu.OutValue),
				Signature:       nonEmpty(wu.Signature),
				PreviousInValue: nonEmpty(wu.PreviousInValue),

				ImpliedIrreversibleBlockHeight: wu.ImpliedIrreversibleBlockHeight,
				SupposedOrderOfNextRound:       wu.SupposedOrderOfNextRound,

				EncryptedPieces: fromWirePieces(wu.EncryptedPieces),
				DecryptedPieces: fromWirePieces(wu.DecryptedPieces),
			}
		}
	}

	if w.NextRound != nil {
		nr, err := w.NextRound.ToRound(reg)
		if err != nil {
			return dposconsensus.Payload{}, fmt.Errorf("failed to decode next round: %w", err)
		}
		p.NextRound = nr
	}

	return p, nil
}

func toWirePieces(ps []dposconsensus.Piece) []WirePiece {
	if len(ps) == 0 {
		return nil
	}
	out := make([]WirePiece, len(ps))
	for i, p := range ps {
		out[i] = WirePiece{Index: p.Index, Data: p.Data}
	}
	return out
}

func fromWirePieces(ps []WirePiece) []dposconsensus.Piece {
	if len(ps) == 0 {
		return nil
	}
	out := make([]dposconsensus.Piece, len(ps))
	for i, p := range ps {
		out[i] = dposconsensus.Piece{Index: p.Index, Data: nonEmpty(p.Data)}
	}
	return out
}

// nonEmpty normalizes empty byte slices to nil,
// so that values compare equal regardless of how a decoder represents absence.
func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// The zero time is encoded as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
