package dposvalidate

import (
	"bytes"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/gordian-engine/gdpos/dpos/dpossecret"
	"github.com/gordian-engine/gdpos/dpos/dposslot"
)

func checkPayloadShape(_ Pipeline, in Input, _ *Result) error {
	if err := in.Payload.CheckShape(); err != nil {
		return err
	}
	if want := in.LastHeight + 1; in.Payload.Height != want {
		return HeightMismatchError{Want: want, Got: in.Payload.Height}
	}
	if in.Payload.RoundNumber != in.Current.Number || in.Payload.TermNumber != in.Current.TermNumber {
		return RoundMismatchError{
			WantRound: in.Current.Number, GotRound: in.Payload.RoundNumber,
			WantTerm: in.Current.TermNumber, GotTerm: in.Payload.TermNumber,
		}
	}
	return nil
}

// The previous round is consulted so that a miner dropped at a term change
// can still produce in the gap it earned by terminating the last round.
func checkMiningPermission(_ Pipeline, in Input, _ *Result) error {
	sender := in.Payload.Sender
	if in.Current.IsMiner(sender) {
		return nil
	}
	if in.Previous != nil && in.Previous.IsMiner(sender) {
		return nil
	}
	return dposconsensus.NotMinerError{PubKey: sender, RoundNumber: in.Current.Number}
}

func checkTimeSlot(p Pipeline, in Input, res *Result) error {
	sender, claimed := in.Payload.Sender, in.Payload.ClaimedTime

	var err error
	if in.Payload.Behaviour.IsTermination() {
		res.Slot, err = p.Arbiter.CheckTermination(sender, claimed, in.Current)
	} else {
		res.Slot, err = p.Arbiter.CheckTimeSlot(sender, claimed, in.Current)
	}
	if err != nil {
		return err
	}

	// Mining times are recorded in order, so the last one is the latest.
	if cm, ok := in.Current.Miner(sender); ok {
		if latest := cm.LatestActualMiningTime(); claimed.Before(latest) {
			return MiningTimeRegressionError{PubKey: sender, Latest: latest, Claimed: claimed}
		}
	}
	return nil
}

func checkContinuousBlocks(_ Pipeline, in Input, res *Result) error {
	return in.Continuous.Check(in.Payload.Sender, res.Slot, max(1, in.MaximumBlocksCount))
}

// Every miner entry is covered, not only the sender's.
// An unchanged value is skipped; a change to a populated value is rejected.
func checkPreviousInValueIntegrity(p Pipeline, in Input, _ *Result) error {
	if in.Payload.Behaviour.IsTermination() {
		// A freshly generated round has nothing revealed yet.
		for i := range in.Payload.NextRound.Miners {
			m := &in.Payload.NextRound.Miners[i]
			if len(m.PreviousInValue) > 0 {
				return dpossecret.PreviousInValueAlreadyRevealedError{PubKey: m.PubKey, RoundNumber: in.Payload.NextRound.Number}
			}
		}
		return nil
	}

	for _, u := range in.Payload.Updates {
		if len(u.PreviousInValue) == 0 {
			continue
		}
		cm, ok := in.Current.Miner(u.PubKey)
		if !ok {
			return dposconsensus.NotMinerError{PubKey: u.PubKey, RoundNumber: in.Current.Number}
		}
		if bytes.Equal(cm.PreviousInValue, u.PreviousInValue) {
			continue
		}
		if len(cm.PreviousInValue) > 0 {
			return dpossecret.PreviousInValueAlreadyRevealedError{PubKey: u.PubKey, RoundNumber: in.Current.Number}
		}
		if err := p.Tracker.VerifyPreviousInValue(in.Previous, u.PubKey, u.PreviousInValue); err != nil {
			return err
		}
	}
	return nil
}

// The comparison is always against Current as stored,
// never against a round that already has the candidate applied.
func checkLibMonotonicity(_ Pipeline, in Input, _ *Result) error {
	if in.Payload.Behaviour.IsTermination() {
		next := in.Payload.NextRound
		if next.ConfirmedIrreversibleBlockHeight < in.Current.ConfirmedIrreversibleBlockHeight {
			return ConfirmedHeightRegressionError{
				Stored:    in.Current.ConfirmedIrreversibleBlockHeight,
				Candidate: next.ConfirmedIrreversibleBlockHeight,
			}
		}
		for i := range next.Miners {
			nm := &next.Miners[i]
			if cm, ok := in.Current.Miner(nm.PubKey); ok && nm.ImpliedIrreversibleBlockHeight < cm.ImpliedIrreversibleBlockHeight {
				return dpossecret.ImpliedHeightRegressionError{
					PubKey:    nm.PubKey,
					Stored:    cm.ImpliedIrreversibleBlockHeight,
					Candidate: nm.ImpliedIrreversibleBlockHeight,
				}
			}
		}
		return nil
	}

	u, ok := in.Payload.Update(in.Payload.Sender)
	if !ok {
		return nil
	}
	if u.ImpliedIrreversibleBlockHeight > in.Payload.Height {
		return ImpliedHeightAboveBlockError{
			PubKey:  in.Payload.Sender,
			Implied: u.ImpliedIrreversibleBlockHeight,
			Height:  in.Payload.Height,
		}
	}
	cm, ok := in.Current.Miner(in.Payload.Sender)
	if !ok {
		return nil
	}
	if u.ImpliedIrreversibleBlockHeight < cm.ImpliedIrreversibleBlockHeight {
		return dpossecret.ImpliedHeightRegressionError{
			PubKey:    in.Payload.Sender,
			Stored:    cm.ImpliedIrreversibleBlockHeight,
			Candidate: u.ImpliedIrreversibleBlockHeight,
		}
	}
	return nil
}

func checkUpdateValue(p Pipeline, in Input, _ *Result) error {
	if in.Payload.Behaviour != dposconsensus.BehaviourUpdateValue {
		return nil
	}

	sender := in.Payload.Sender
	u, ok := in.Payload.Update(sender)
	if !ok {
		return ErrMissingSenderUpdate
	}
	cm, ok := in.Current.Miner(sender)
	if !ok {
		return dposconsensus.NotMinerError{PubKey: sender, RoundNumber: in.Current.Number}
	}

	if len(u.OutValue) == 0 || len(u.Signature) == 0 {
		return ErrEmptyCommitment
	}
	if cm.Mined() && !bytes.Equal(cm.OutValue, u.OutValue) {
		return OutValueChangedError{PubKey: sender}
	}

	// A relay may already have revealed the sender's value.
	revealed := u.PreviousInValue
	if len(revealed) == 0 {
		revealed = cm.PreviousInValue
	}
	if len(revealed) == 0 && in.Previous != nil {
		if pm, ok := in.Previous.Miner(sender); ok && pm.Mined() {
			return ErrMissingReveal
		}
	}

	wantSig, err := dposround.Signature(p.HashScheme, in.Previous, in.Current, sender, revealed)
	if err != nil {
		return err
	}
	if !bytes.Equal(wantSig, u.Signature) {
		return SignatureMismatchError{Want: wantSig, Got: u.Signature}
	}

	if want := dposround.SignatureOrder(u.Signature, len(in.Current.Miners)); u.SupposedOrderOfNextRound != want {
		return SupposedOrderMismatchError{Want: want, Got: u.SupposedOrderOfNextRound}
	}

	if err := checkEncryptedPieces(in.Current, cm, u.EncryptedPieces); err != nil {
		return err
	}
	if len(u.DecryptedPieces) > 0 {
		return InvalidPiecesError{PubKey: sender, Reason: "a miner cannot relay pieces of its own value"}
	}

	for i := range in.Payload.Updates {
		r := &in.Payload.Updates[i]
		if r.PubKey.Equal(sender) {
			continue
		}
		if err := checkRelay(in, r); err != nil {
			return err
		}
	}
	return nil
}

// Encrypted pieces are optional, but when present
// there must be exactly one for every other miner, indexed by its order.
func checkEncryptedPieces(r *dposconsensus.Round, owner *dposconsensus.MinerInRound, pieces []dposconsensus.Piece) error {
	if len(pieces) == 0 {
		return nil
	}
	if len(pieces) != len(r.Miners)-1 {
		return InvalidPiecesError{PubKey: owner.PubKey, Reason: "must encrypt one piece for every other miner"}
	}
	var last uint32
	for _, p := range pieces {
		if p.Index <= last || int(p.Index) > len(r.Miners) || p.Index == owner.Order || len(p.Data) == 0 {
			return InvalidPiecesError{PubKey: owner.PubKey, Reason: "pieces must be sorted, unique, non-empty, and addressed to other miners"}
		}
		last = p.Index
	}
	if len(owner.EncryptedPieces) > 0 && !piecesEqual(owner.EncryptedPieces, pieces) {
		return InvalidPiecesError{PubKey: owner.PubKey, Reason: "encrypted pieces already committed"}
	}
	return nil
}

func checkRelay(in Input, u *dposconsensus.MinerUpdate) error {
	if !u.IsRelay() {
		return InvalidRelayError{PubKey: u.PubKey, Reason: "only a revealed value and decrypted pieces may be relayed"}
	}
	if !in.Current.IsMiner(u.PubKey) {
		return dposconsensus.NotMinerError{PubKey: u.PubKey, RoundNumber: in.Current.Number}
	}
	if len(u.DecryptedPieces) == 0 {
		return nil
	}

	// A miner can only have decrypted the piece addressed to itself in the previous round.
	if len(u.DecryptedPieces) > 1 {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "a miner relays only its own decrypted piece"}
	}
	if in.Previous == nil {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "no previous round"}
	}
	senderOrder, ok := in.Previous.Order(in.Payload.Sender)
	if !ok {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "sender held no piece in the previous round"}
	}
	p := u.DecryptedPieces[0]
	if p.Index != senderOrder || len(p.Data) == 0 {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "decrypted piece index must be the sender's previous order"}
	}
	pm, ok := in.Previous.Miner(u.PubKey)
	if !ok {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "target was not a miner in the previous round"}
	}
	if _, ok := dposconsensus.FindPiece(pm.EncryptedPieces, p.Index); !ok {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "target encrypted no piece for the sender"}
	}
	cm, _ := in.Current.Miner(u.PubKey)
	if existing, ok := dposconsensus.FindPiece(cm.DecryptedPieces, p.Index); ok && !bytes.Equal(existing, p.Data) {
		return InvalidPiecesError{PubKey: u.PubKey, Reason: "decrypted piece already relayed"}
	}
	return nil
}

func checkTinyBlock(_ Pipeline, in Input, res *Result) error {
	if in.Payload.Behaviour != dposconsensus.BehaviourTinyBlock {
		return nil
	}
	if len(in.Payload.Updates) > 0 {
		return ErrTinyBlockUpdates
	}
	if res.Slot.Kind == dposslot.SlotOrdinary {
		if cm, ok := in.Current.Miner(in.Payload.Sender); ok && !cm.Mined() {
			return ErrTinyBlockBeforeUpdate
		}
	}
	return nil
}

func checkRoundTerminate(p Pipeline, in Input, _ *Result) error {
	if !in.Payload.Behaviour.IsTermination() {
		return nil
	}

	next := in.Payload.NextRound
	if next.Number != in.Current.Number+1 {
		return TerminationError{Reason: "round number must advance by one"}
	}

	changeTerm := in.Payload.Behaviour == dposconsensus.BehaviourNextTerm
	if changeTerm != dposround.NeedToChangeTerm(in.Current, p.Config) {
		return TerminationError{Reason: "term change does not match the current round's term end"}
	}

	wantTerm := in.Current.TermNumber
	if changeTerm {
		wantTerm++
	}
	if next.TermNumber != wantTerm {
		return TerminationError{Reason: "term number must advance by one exactly on a term change"}
	}

	for i := range next.Miners {
		m := &next.Miners[i]
		if len(m.OutValue) > 0 || len(m.InValue) > 0 || len(m.Signature) > 0 ||
			len(m.ActualMiningTimes) > 0 || len(m.EncryptedPieces) > 0 || len(m.DecryptedPieces) > 0 {
			return TerminationError{Reason: "next round must not carry values produced within a round"}
		}
	}
	return nil
}

// Mined miners settled their final orders during the round;
// the next round must seat them there.
func checkNextRoundMiningOrder(_ Pipeline, in Input, _ *Result) error {
	if in.Payload.Behaviour != dposconsensus.BehaviourNextRound {
		return nil
	}

	n := uint32(len(in.Current.Miners))
	seen := bitset.New(uint(n) + 1)
	for i := range in.Current.Miners {
		cm := &in.Current.Miners[i]
		if !cm.Mined() {
			continue
		}
		o := cm.FinalOrderOfNextRound
		if o == 0 || o > n || seen.Test(uint(o)) {
			return dposround.InconsistentOrderError{PubKey: cm.PubKey, Order: o, Reason: "final orders must be distinct and in range"}
		}
		seen.Set(uint(o))

		nm, ok := in.Payload.NextRound.Miner(cm.PubKey)
		if !ok {
			return NextRoundOrderError{PubKey: cm.PubKey, Want: o}
		}
		if nm.Order != o {
			return NextRoundOrderError{PubKey: cm.PubKey, Want: o, Got: nm.Order}
		}
	}
	return nil
}

func checkRoundConsistency(p Pipeline, in Input, _ *Result) error {
	if !in.Payload.Behaviour.IsTermination() {
		return nil
	}
	if in.ExpectedNextRound == nil {
		return ErrNoExpectedRound
	}

	want, err := p.HashScheme.Round(in.ExpectedNextRound)
	if err != nil {
		return err
	}
	got, err := p.HashScheme.Round(in.Payload.NextRound)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return RoundHashMismatchError{Want: want, Got: got}
	}
	return nil
}

func piecesEqual(a, b []dposconsensus.Piece) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Index != b[i].Index || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}
