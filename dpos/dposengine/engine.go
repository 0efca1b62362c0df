package dposengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposmetrics"
	"github.com/gordian-engine/gdpos/dpos/dposoracle"
	"github.com/gordian-engine/gdpos/dpos/dposround"
	"github.com/gordian-engine/gdpos/dpos/dposslot"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/dpos/dposvalidate"
	"github.com/gordian-engine/gdpos/gassert"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// Engine holds the consensus state of one node
// and applies validated payloads to it.
//
// All methods are safe for concurrent use.
// Payloads are applied one at a time; queries never block each other.
type Engine struct {
	log *slog.Logger

	cfg dposconsensus.Config
	hs  dposconsensus.HashScheme

	rs dposstore.RoundStore
	fs dposstore.FinalizationStore

	election   dposoracle.ElectionOracle
	randomness dposoracle.RandomnessOracle

	metrics   *dposmetrics.Metrics
	assertEnv gassert.Env

	pipeline dposvalidate.Pipeline
	gen      dposround.Generator

	mu sync.RWMutex

	// Previous and beforePrevious are nil until enough rounds have passed.
	current, previous, beforePrevious *dposconsensus.Round

	continuous dposslot.ContinuousBlocks

	// Height of the last applied block, saved with the current round.
	// Zero before the first block.
	height uint64

	// Last irreversible height and the round it was confirmed in,
	// as persisted in the finalization store.
	libHeight, libRound uint64

	// Payloads applied to the current round, for duplicate detection.
	// Reset on every round change.
	seen map[payloadKey]dposconsensus.Payload
}

type payloadKey struct {
	sender      string
	height      uint64
	behaviour   dposconsensus.Behaviour
	roundNumber uint64
	claimedMs   int64
}

func keyOf(p dposconsensus.Payload) payloadKey {
	k := payloadKey{
		height:      p.Height,
		behaviour:   p.Behaviour,
		roundNumber: p.RoundNumber,
		claimedMs:   p.ClaimedTime.UnixMilli(),
	}
	if p.Sender != nil {
		k.sender = string(p.Sender.PubKeyBytes())
	}
	return k
}

// New returns an engine initialized from the configured stores.
//
// If the round store is empty, the genesis round is built from
// the election result for term 1 and the random seed for height 0,
// and saved before New returns.
func New(ctx context.Context, log *slog.Logger, opts ...Opt) (*Engine, error) {
	e := &Engine{
		log: log,
		cfg: dposconsensus.DefaultConfig(),
	}

	var err error
	for _, opt := range opts {
		err = errors.Join(err, opt(e))
	}
	if err != nil {
		return nil, err
	}

	if err := e.validateSettings(); err != nil {
		return nil, err
	}

	e.pipeline = dposvalidate.NewPipeline(e.hs, e.cfg)
	e.gen = dposround.Generator{Config: e.cfg}

	if err := e.loadInitialState(ctx); err != nil {
		return nil, err
	}

	e.metrics.ObserveRound(e.current, e.maximumBlocksCount())
	glog.RT(e.log, e.current.Number, e.current.TermNumber).Info(
		"Engine initialized",
		"miners", len(e.current.Miners),
		"height", e.height,
		"lib_height", e.libHeight,
	)
	return e, nil
}

func (e *Engine) validateSettings() error {
	var err error

	if e.log == nil {
		err = errors.Join(err, errors.New("no logger set"))
	}

	if e.hs == nil {
		err = errors.Join(err, errors.New("no hash scheme set (use dposengine.WithHashScheme)"))
	}

	if e.rs == nil {
		err = errors.Join(err, errors.New("no round store set (use dposengine.WithRoundStore)"))
	}
	if e.fs == nil {
		err = errors.Join(err, errors.New("no finalization store set (use dposengine.WithFinalizationStore)"))
	}

	if e.election == nil {
		err = errors.Join(err, errors.New("no election oracle set (use dposengine.WithElection)"))
	}
	if e.randomness == nil {
		err = errors.Join(err, errors.New("no randomness oracle set (use dposengine.WithRandomness)"))
	}

	if cfgErr := e.cfg.Validate(); cfgErr != nil {
		err = errors.Join(err, fmt.Errorf("invalid config: %w", cfgErr))
	}

	return err
}

func (e *Engine) loadInitialState(ctx context.Context) error {
	cur, height, err := e.rs.LoadLatestRound(ctx)
	switch {
	case err == nil:
		// Resuming.
	case errors.Is(err, dposstore.ErrStoreUninitialized):
		cur, err = e.genesis(ctx)
		if err != nil {
			return err
		}
		if err := e.rs.SaveRound(ctx, cur, 0); err != nil {
			return fmt.Errorf("failed to save genesis round: %w", err)
		}
	default:
		return fmt.Errorf("failed to load latest round: %w", err)
	}
	e.current = cur
	e.height = height

	if cur.Number > 1 {
		e.previous, err = e.loadOptionalRound(ctx, cur.Number-1)
		if err != nil {
			return err
		}
	}
	if cur.Number > 2 && e.previous != nil {
		e.beforePrevious, err = e.loadOptionalRound(ctx, cur.Number-2)
		if err != nil {
			return err
		}
	}

	e.libHeight, e.libRound, err = e.fs.LoadIrreversibleHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to load irreversible height: %w", err)
	}

	e.seen = make(map[payloadKey]dposconsensus.Payload)
	return nil
}

// loadOptionalRound returns nil without error if the round was pruned.
func (e *Engine) loadOptionalRound(ctx context.Context, n uint64) (*dposconsensus.Round, error) {
	r, err := e.rs.LoadRound(ctx, n)
	if err == nil {
		return r, nil
	}
	var unknown dposstore.RoundUnknownError
	if errors.As(err, &unknown) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to load round %d: %w", n, err)
}

func (e *Engine) genesis(ctx context.Context) (*dposconsensus.Round, error) {
	elected, err := e.election.GetElectedMiners(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to get genesis miners: %w", err)
	}
	seed, err := e.randomness.RandomSeed(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get genesis random seed: %w", err)
	}
	r, err := e.gen.Genesis(elected, e.cfg.GenesisTime, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build genesis round: %w", err)
	}
	return r, nil
}

// HandlePayload validates p against the current state and applies it.
//
// A rejected payload returns a [*dposvalidate.RejectionError]
// and leaves the engine and its stores untouched.
// Handling an exact duplicate of a payload already applied
// to the current round is a no-op.
func (e *Engine) HandlePayload(ctx context.Context, p dposconsensus.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if applied, ok := e.seen[keyOf(p)]; ok {
		same, err := e.samePayload(applied, p)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
	}

	if p.NextRound != nil {
		// The caller keeps its round; validation needs a lookup index.
		p.NextRound = p.NextRound.Clone()
		if err := p.NextRound.Reindex(); err != nil {
			e.metrics.Rejected(dposvalidate.PayloadShape)
			return &dposvalidate.RejectionError{Validator: dposvalidate.PayloadShape, Err: err}
		}
	}

	in := dposvalidate.Input{
		Payload:            p,
		Current:            e.current,
		Previous:           e.previous,
		LastHeight:         e.height,
		Continuous:         e.continuous,
		MaximumBlocksCount: e.maximumBlocksCount(),
	}

	var genErr error
	if p.Behaviour.IsTermination() && p.Sender != nil && p.RoundNumber == e.current.Number {
		in.ExpectedNextRound, genErr = e.generate(ctx, e.current, p.Behaviour, p.Sender, p.ClaimedTime)
	}

	res, err := e.pipeline.Validate(in)
	if err != nil {
		var rej *dposvalidate.RejectionError
		if errors.As(err, &rej) {
			if genErr != nil {
				rej.Err = errors.Join(rej.Err, genErr)
			}
			e.metrics.Rejected(rej.Validator)
		}
		glog.RTE(e.log, e.current.Number, e.current.TermNumber, err).Debug(
			"Rejected payload",
			"behaviour", p.Behaviour,
			"sender", senderHex(p.Sender),
			"height", p.Height,
		)
		return err
	}

	if p.Behaviour.IsTermination() {
		return e.rotate(ctx, p, res.Slot)
	}
	return e.applyWithinRound(ctx, p, res.Slot)
}

func (e *Engine) applyWithinRound(ctx context.Context, p dposconsensus.Payload, slot dposslot.Slot) error {
	r := e.current.Clone()

	var err error
	switch p.Behaviour {
	case dposconsensus.BehaviourUpdateValue:
		err = e.applyUpdateValue(r, p)
	case dposconsensus.BehaviourTinyBlock:
		applyTinyBlock(r, p)
	default:
		panic(fmt.Errorf("BUG: cannot apply %s within a round", p.Behaviour))
	}
	if err != nil {
		return fmt.Errorf("failed to apply validated payload: %w", err)
	}

	invariantRevealsBound(e.assertEnv, e.hs, e.previous, r)

	if err := e.rs.SaveRound(ctx, r, p.Height); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.Number, err)
	}

	libHeight, libRound := e.libHeight, e.libRound
	if r.ConfirmedIrreversibleBlockHeight > e.libHeight {
		invariantLibMonotonic(e.assertEnv, e.libHeight, r.ConfirmedIrreversibleBlockHeight)
		libHeight = r.ConfirmedIrreversibleBlockHeight
		libRound = r.ConfirmedIrreversibleBlockRoundNumber
		if err := e.fs.SaveIrreversibleHeight(ctx, libHeight, libRound); err != nil {
			return fmt.Errorf("failed to save irreversible height %d: %w", libHeight, err)
		}
	}

	if libHeight > e.libHeight {
		glog.RT(e.log, r.Number, r.TermNumber).Info(
			"Irreversible height advanced",
			"height", libHeight,
			"confirmed_round", libRound,
		)
	}

	e.current = r
	e.height = p.Height
	e.libHeight, e.libRound = libHeight, libRound
	e.continuous = e.continuous.Record(p.Sender, slot)
	e.seen[keyOf(p)] = clonePayload(p)

	e.metrics.Applied(p.Behaviour)
	e.metrics.ObserveRound(r, e.maximumBlocksCount())
	return nil
}

func (e *Engine) applyUpdateValue(r *dposconsensus.Round, p dposconsensus.Payload) error {
	t := e.pipeline.Tracker
	sender := p.Sender

	m, ok := r.Miner(sender)
	if !ok {
		return dposconsensus.NotMinerError{PubKey: sender, RoundNumber: r.Number}
	}
	u, ok := p.Update(sender)
	if !ok {
		return dposvalidate.ErrMissingSenderUpdate
	}

	m.ActualMiningTimes = append(m.ActualMiningTimes, dposconsensus.CanonicalTime(p.ClaimedTime))
	m.ProducedBlocks++

	if !m.Mined() {
		if err := t.RecordCommitment(r, sender, u.OutValue); err != nil {
			return err
		}
		m.Signature = bytes.Clone(u.Signature)
		m.EncryptedPieces = clonePieces(u.EncryptedPieces)
	}

	for i := range p.Updates {
		ru := &p.Updates[i]
		if len(ru.PreviousInValue) == 0 {
			continue
		}
		target, ok := r.Miner(ru.PubKey)
		if !ok {
			return dposconsensus.NotMinerError{PubKey: ru.PubKey, RoundNumber: r.Number}
		}
		if bytes.Equal(target.PreviousInValue, ru.PreviousInValue) {
			continue
		}
		if err := t.RevealPreviousInValue(r, e.previous, sender, ru.PubKey, ru.PreviousInValue); err != nil {
			return err
		}
	}

	if err := t.SetImpliedIrreversibleBlockHeight(r, sender, u.ImpliedIrreversibleBlockHeight); err != nil {
		return err
	}
	if err := dposround.ApplySupposedOrder(r, sender, u.SupposedOrderOfNextRound); err != nil {
		return err
	}

	for i := range p.Updates {
		ru := &p.Updates[i]
		if ru.PubKey.Equal(sender) {
			continue
		}
		target, _ := r.Miner(ru.PubKey)
		for _, piece := range ru.DecryptedPieces {
			target.DecryptedPieces, _ = dposconsensus.InsertPiece(
				target.DecryptedPieces,
				dposconsensus.Piece{Index: piece.Index, Data: bytes.Clone(piece.Data)},
			)
		}
	}

	if h, ok := t.ComputeImpliedLibHeight(r, e.previous); ok && h > r.ConfirmedIrreversibleBlockHeight {
		r.ConfirmedIrreversibleBlockHeight = h
		r.ConfirmedIrreversibleBlockRoundNumber = r.Number - 1
	}
	return nil
}

// applyTinyBlock records a tiny block.
// The previous round's extra block producer may produce in the gap
// after leaving the miner list, in which case nothing is recorded.
func applyTinyBlock(r *dposconsensus.Round, p dposconsensus.Payload) {
	m, ok := r.Miner(p.Sender)
	if !ok {
		return
	}
	m.ActualMiningTimes = append(m.ActualMiningTimes, dposconsensus.CanonicalTime(p.ClaimedTime))
	m.ProducedBlocks++
	m.ProducedTinyBlocks++
}

func (e *Engine) rotate(ctx context.Context, p dposconsensus.Payload, slot dposslot.Slot) error {
	next := p.NextRound
	invariantOrdersContiguous(e.assertEnv, next)

	if err := e.rs.SaveRound(ctx, next, p.Height); err != nil {
		return fmt.Errorf("failed to save round %d: %w", next.Number, err)
	}

	keep := max(e.cfg.KeepRounds, 2)
	if e.cfg.KeepRounds > 0 && next.Number > keep {
		if err := e.rs.PruneRoundsBefore(ctx, next.Number-keep); err != nil {
			// Pruning is retried on the next rotation.
			glog.RTE(e.log, next.Number, next.TermNumber, err).Warn("Failed to prune rounds")
		}
	}

	e.beforePrevious, e.previous, e.current = e.previous, e.current, next
	e.height = p.Height
	e.continuous = dposslot.ContinuousBlocks{}
	e.seen = map[payloadKey]dposconsensus.Payload{keyOf(p): clonePayload(p)}

	e.log.Info(
		"Advanced round",
		"behaviour", p.Behaviour,
		"from_round", slot.RoundNumber,
		"round", next.Number,
		"term", next.TermNumber,
		"terminator", senderHex(p.Sender),
	)

	e.metrics.Applied(p.Behaviour)
	e.metrics.ObserveRound(next, e.maximumBlocksCount())
	return nil
}

// generate builds the round that a termination of current by terminator
// at the given time must carry in the block after the last applied one.
// It must be called with e.mu held.
func (e *Engine) generate(
	ctx context.Context,
	current *dposconsensus.Round,
	b dposconsensus.Behaviour,
	terminator gcrypto.PubKey,
	at time.Time,
) (*dposconsensus.Round, error) {
	at = dposconsensus.CanonicalTime(at)

	// The seed is bound to the terminating block's height, never the caller's.
	height := e.height + 1

	switch b {
	case dposconsensus.BehaviourNextRound:
		return e.gen.NextRound(current, terminator, at)

	case dposconsensus.BehaviourNextTerm:
		elected, err := e.election.GetElectedMiners(ctx, current.TermNumber+1)
		if err != nil {
			return nil, fmt.Errorf("failed to get miners for term %d: %w", current.TermNumber+1, err)
		}
		seed, err := e.randomness.RandomSeed(ctx, height)
		if err != nil {
			return nil, fmt.Errorf("failed to get random seed at height %d: %w", height, err)
		}
		return e.gen.FirstRoundOfTerm(current, elected, at, seed, terminator)

	default:
		panic(fmt.Errorf("BUG: cannot generate a round for %s", b))
	}
}

// maximumBlocksCount must be called with e.mu held.
func (e *Engine) maximumBlocksCount() int {
	return dposslot.MaximumBlocksCount(
		e.current.Number,
		e.current.ConfirmedIrreversibleBlockRoundNumber,
		dposslot.MinedInBoth(e.current, e.previous),
		len(e.current.Miners),
		e.cfg.MaximumTinyBlocksCount,
	)
}

// samePayload reports whether a and b carry the same content.
// Next rounds are compared by hash.
func (e *Engine) samePayload(a, b dposconsensus.Payload) (bool, error) {
	if a.Behaviour != b.Behaviour ||
		a.Height != b.Height ||
		a.RoundNumber != b.RoundNumber ||
		a.TermNumber != b.TermNumber ||
		!a.ClaimedTime.Equal(b.ClaimedTime) {
		return false, nil
	}
	if (a.Sender == nil) != (b.Sender == nil) || (a.Sender != nil && !a.Sender.Equal(b.Sender)) {
		return false, nil
	}
	if !slices.EqualFunc(a.Updates, b.Updates, updatesEqual) {
		return false, nil
	}

	if (a.NextRound == nil) != (b.NextRound == nil) {
		return false, nil
	}
	if a.NextRound == nil {
		return true, nil
	}
	ha, err := e.hs.Round(a.NextRound)
	if err != nil {
		return false, err
	}
	hb, err := e.hs.Round(b.NextRound)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

func updatesEqual(a, b dposconsensus.MinerUpdate) bool {
	return a.PubKey.Equal(b.PubKey) &&
		bytes.Equal(a.OutValue, b.OutValue) &&
		bytes.Equal(a.Signature, b.Signature) &&
		bytes.Equal(a.PreviousInValue, b.PreviousInValue) &&
		a.ImpliedIrreversibleBlockHeight == b.ImpliedIrreversibleBlockHeight &&
		a.SupposedOrderOfNextRound == b.SupposedOrderOfNextRound &&
		slices.EqualFunc(a.EncryptedPieces, b.EncryptedPieces, piecesEqual) &&
		slices.EqualFunc(a.DecryptedPieces, b.DecryptedPieces, piecesEqual)
}

func piecesEqual(a, b dposconsensus.Piece) bool {
	return a.Index == b.Index && bytes.Equal(a.Data, b.Data)
}

// clonePayload returns a copy of p that shares no mutable state with the caller.
// A NextRound is assumed to be owned by the engine already.
func clonePayload(p dposconsensus.Payload) dposconsensus.Payload {
	if len(p.Updates) == 0 {
		return p
	}
	us := make([]dposconsensus.MinerUpdate, len(p.Updates))
	for i, u := range p.Updates {
		us[i] = dposconsensus.MinerUpdate{
			PubKey:                         u.PubKey,
			OutValue:                       bytes.Clone(u.OutValue),
			Signature:                      bytes.Clone(u.Signature),
			PreviousInValue:                bytes.Clone(u.PreviousInValue),
			ImpliedIrreversibleBlockHeight: u.ImpliedIrreversibleBlockHeight,
			SupposedOrderOfNextRound:       u.SupposedOrderOfNextRound,
			EncryptedPieces:                clonePieces(u.EncryptedPieces),
			DecryptedPieces:                clonePieces(u.DecryptedPieces),
		}
	}
	p.Updates = us
	return p
}

func clonePieces(ps []dposconsensus.Piece) []dposconsensus.Piece {
	if len(ps) == 0 {
		return nil
	}
	out := make([]dposconsensus.Piece, len(ps))
	for i, p := range ps {
		out[i] = dposconsensus.Piece{Index: p.Index, Data: bytes.Clone(p.Data)}
	}
	return out
}

func senderHex(pk gcrypto.PubKey) glog.ShortHex {
	if pk == nil {
		return nil
	}
	return glog.ShortHex(pk.PubKeyBytes())
}
