package dposengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/gordian-engine/gdpos/dpos/dpossecret"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// Producer builds the payloads of one local miner.
//
// The in values it generates never leave the producer
// except through the reveal in the following round
// and the encrypted pieces given to the other miners.
type Producer struct {
	log *slog.Logger
	e   *Engine

	pubKey gcrypto.PubKey

	// Nil if the miner cannot decrypt pieces,
	// in which case it never relays on behalf of other miners.
	pieceKey *dpossecret.PieceKey

	rand io.Reader

	mu       sync.Mutex
	inValues map[uint64][]byte // By round number.
}

// ProducerConfig is the configuration for a [Producer].
type ProducerConfig struct {
	PubKey gcrypto.PubKey

	// PieceKey decrypts the pieces other miners encrypt to PubKey.
	// If nil, the producer does not relay.
	PieceKey *dpossecret.PieceKey

	// Rand is the source for in values and secret sharing.
	// If nil, the system's secure random source is used.
	Rand io.Reader
}

// NewProducer returns a producer for the miner described by cfg,
// building payloads against e's state.
func NewProducer(log *slog.Logger, e *Engine, cfg ProducerConfig) *Producer {
	if cfg.PubKey == nil {
		panic(errors.New("BUG: NewProducer requires a public key"))
	}
	return &Producer{
		log: log,
		e:   e,

		pubKey:   cfg.PubKey,
		pieceKey: cfg.PieceKey,
		rand:     cfg.Rand,

		inValues: make(map[uint64][]byte),
	}
}

// PubKey returns the key of the miner the producer builds payloads for.
func (p *Producer) PubKey() gcrypto.PubKey {
	return p.pubKey
}

// Propose returns the payload for a block at the given height and time.
// Only the height after [Engine.Height] is accepted by HandlePayload.
// The second return value is false when the miner has nothing to produce at now;
// [Engine.ConsensusCommand] tells when to ask again.
//
// The payload is not applied; the caller passes it to [Engine.HandlePayload]
// on every node, including this one.
func (p *Producer) Propose(ctx context.Context, height uint64, now time.Time) (dposconsensus.Payload, bool, error) {
	now = dposconsensus.CanonicalTime(now)

	p.e.mu.RLock()
	cmd, err := p.e.command(p.pubKey, now)
	var cur, prev *dposconsensus.Round
	if err == nil {
		cur = p.e.current.Clone()
		if p.e.previous != nil {
			prev = p.e.previous.Clone()
		}
	}
	p.e.mu.RUnlock()

	if err != nil {
		return dposconsensus.Payload{}, false, err
	}
	if cmd.Behaviour == dposconsensus.BehaviourNothing {
		return dposconsensus.Payload{}, false, nil
	}

	out := dposconsensus.Payload{
		Behaviour:   cmd.Behaviour,
		Height:      height,
		RoundNumber: cur.Number,
		TermNumber:  cur.TermNumber,
		Sender:      p.pubKey,
		ClaimedTime: now,
	}

	switch cmd.Behaviour {
	case dposconsensus.BehaviourTinyBlock:
		// Nothing else to carry.

	case dposconsensus.BehaviourUpdateValue:
		out.Updates, err = p.updates(cur, prev, height, now)
		if err != nil {
			return dposconsensus.Payload{}, false, err
		}

	case dposconsensus.BehaviourNextRound, dposconsensus.BehaviourNextTerm:
		b, next, err := p.e.NextRoundFor(ctx, p.pubKey, now)
		if err != nil {
			return dposconsensus.Payload{}, false, fmt.Errorf("failed to generate next round: %w", err)
		}
		if next.Number != cur.Number+1 {
			// A payload was applied in between; the caller asks again.
			return dposconsensus.Payload{}, false, nil
		}
		out.Behaviour = b
		out.NextRound = next

	default:
		panic(fmt.Errorf("BUG: unhandled command behaviour %s", cmd.Behaviour))
	}

	return out, true, nil
}

func (p *Producer) updates(cur, prev *dposconsensus.Round, height uint64, now time.Time) ([]dposconsensus.MinerUpdate, error) {
	hs := p.e.hs
	me, ok := cur.Miner(p.pubKey)
	if !ok {
		return nil, dposconsensus.NotMinerError{PubKey: p.pubKey, RoundNumber: cur.Number}
	}

	inValue, err := p.inValue(cur.Number)
	if err != nil {
		return nil, err
	}
	outValue, err := hs.OutValue(inValue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute out value: %w", err)
	}

	revealed := me.PreviousInValue
	if len(revealed) == 0 && prev != nil {
		if pm, ok := prev.Miner(p.pubKey); ok && pm.Mined() {
			revealed = p.previousInValue(prev.Number)
			if len(revealed) == 0 {
				p.log.Warn(
					"No in value kept for previous round; update will lack a reveal",
					"round", prev.Number,
				)
			}
		}
	}

	sig, err := dposround.Signature(hs, prev, cur, p.pubKey, revealed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute signature: %w", err)
	}

	own := dposconsensus.MinerUpdate{
		PubKey:                         p.pubKey,
		OutValue:                       outValue,
		Signature:                      sig,
		PreviousInValue:                bytes.Clone(revealed),
		ImpliedIrreversibleBlockHeight: max(height, me.ImpliedIrreversibleBlockHeight),
		SupposedOrderOfNextRound:       dposround.SignatureOrder(sig, len(cur.Miners)),
	}

	if len(cur.Miners) > 1 {
		own.EncryptedPieces, err = dpossecret.SplitInValue(inValue, cur, p.pubKey, p.rand)
		if err != nil {
			var unsupported dpossecret.UnsupportedKeyError
			if !errors.As(err, &unsupported) {
				return nil, fmt.Errorf("failed to split in value: %w", err)
			}
			own.EncryptedPieces = nil
			glog.RTE(p.log, cur.Number, cur.TermNumber, err).Debug("Not splitting in value")
		}
	}

	updates := []dposconsensus.MinerUpdate{own}
	if p.pieceKey != nil && prev != nil {
		updates = append(updates, p.relays(cur, prev, now)...)
	}
	return updates, nil
}

// relays returns an update for every other miner whose piece addressed to p
// has not yet been relayed, and, when enough pieces are known,
// the recovered previous in value of a miner whose slot passed without a reveal.
func (p *Producer) relays(cur, prev *dposconsensus.Round, now time.Time) []dposconsensus.MinerUpdate {
	myOrder, ok := prev.Order(p.pubKey)
	if !ok {
		return nil
	}
	interval, err := cur.MiningInterval()
	if err != nil {
		return nil
	}

	t := p.e.pipeline.Tracker
	var out []dposconsensus.MinerUpdate
	for i := range prev.Miners {
		pm := &prev.Miners[i]
		if pm.PubKey.Equal(p.pubKey) {
			continue
		}
		ct, ok := dposconsensus.FindPiece(pm.EncryptedPieces, myOrder)
		if !ok {
			continue
		}
		cm, ok := cur.Miner(pm.PubKey)
		if !ok || len(cm.PreviousInValue) > 0 {
			continue
		}

		relay := dposconsensus.MinerUpdate{PubKey: pm.PubKey}
		pieces := cm.DecryptedPieces
		if _, ok := dposconsensus.FindPiece(pieces, myOrder); !ok {
			share, err := p.pieceKey.Decrypt(ct)
			if err != nil {
				glog.RTE(p.log, cur.Number, cur.TermNumber, err).Warn(
					"Failed to decrypt piece",
					"owner", glog.ShortHex(pm.PubKey.PubKeyBytes()),
				)
				continue
			}
			mine := dposconsensus.Piece{Index: myOrder, Data: share}
			relay.DecryptedPieces = []dposconsensus.Piece{mine}
			pieces, _ = dposconsensus.InsertPiece(clonePieces(pieces), mine)
		}

		slotOver := !now.Before(cm.ExpectedMiningTime.Add(interval))
		if slotOver && !cm.Mined() && len(pieces) >= dpossecret.Threshold(len(prev.Miners)) {
			v, err := dpossecret.RecoverInValue(pieces, len(prev.Miners))
			if err == nil {
				err = t.VerifyPreviousInValue(prev, pm.PubKey, v)
			}
			if err == nil {
				relay.PreviousInValue = v
			} else {
				glog.RTE(p.log, cur.Number, cur.TermNumber, err).Debug(
					"Could not recover previous in value",
					"owner", glog.ShortHex(pm.PubKey.PubKeyBytes()),
				)
			}
		}

		if len(relay.DecryptedPieces) == 0 && len(relay.PreviousInValue) == 0 {
			continue
		}
		out = append(out, relay)
	}
	return out
}

// inValue returns the in value for the given round, creating it on first use.
// In values older than the previous round are forgotten.
func (p *Producer) inValue(roundNumber uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.inValues[roundNumber]; ok {
		return v, nil
	}

	v, err := dpossecret.NewInValue(p.rand)
	if err != nil {
		return nil, fmt.Errorf("failed to create in value: %w", err)
	}
	p.inValues[roundNumber] = v

	for n := range p.inValues {
		if n+1 < roundNumber {
			delete(p.inValues, n)
		}
	}
	return v, nil
}

func (p *Producer) previousInValue(roundNumber uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inValues[roundNumber]
}
