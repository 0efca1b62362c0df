package dposvalidate

import (
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposslot"
	"github.com/gordian-engine/gdpos/dpos/dpossecret"
)

// Validator names, in the order the pipeline runs them.
const (
	PayloadShape             = "PayloadShape"
	MiningPermission         = "MiningPermission"
	TimeSlot                 = "TimeSlot"
	ContinuousBlocks         = "ContinuousBlocks"
	PreviousInValueIntegrity = "PreviousInValueIntegrity"
	LibMonotonicity          = "LibMonotonicity"
	UpdateValue              = "UpdateValue"
	TinyBlock                = "TinyBlock"
	RoundTerminate           = "RoundTerminate"
	NextRoundMiningOrder     = "NextRoundMiningOrder"
	RoundConsistency         = "RoundConsistency"
)

// Input is everything a payload is validated against.
// None of it is modified by validation.
type Input struct {
	Payload dposconsensus.Payload

	// Current is the stored round the payload applies to,
	// before any part of the payload has been applied.
	Current *dposconsensus.Round

	// Previous is the round before Current, or nil at genesis.
	Previous *dposconsensus.Round

	// LastHeight is the height of the last applied block,
	// zero before the first block.
	// The payload must be for the block right after it.
	LastHeight uint64

	Continuous dposslot.ContinuousBlocks

	// MaximumBlocksCount is the per-slot block budget in effect.
	MaximumBlocksCount int

	// ExpectedNextRound is the locally generated next round.
	// It is required for terminations and ignored otherwise.
	ExpectedNextRound *dposconsensus.Round
}

// Result holds what validation derived from an accepted payload,
// for the caller to use while applying it.
type Result struct {
	Slot dposslot.Slot
}

// Pipeline runs the validators.
type Pipeline struct {
	HashScheme dposconsensus.HashScheme
	Config     dposconsensus.Config

	Tracker dpossecret.Tracker
	Arbiter dposslot.Arbiter
}

// NewPipeline returns a pipeline for the given hash scheme and config.
func NewPipeline(hs dposconsensus.HashScheme, cfg dposconsensus.Config) Pipeline {
	return Pipeline{
		HashScheme: hs,
		Config:     cfg,
		Tracker:    dpossecret.Tracker{HashScheme: hs, Lib: cfg.Lib},
	}
}

type stage struct {
	name  string
	check func(p Pipeline, in Input, res *Result) error
}

// Validation order matters: every later stage may assume
// that the earlier ones passed.
var stages = [...]stage{
	{name: PayloadShape, check: checkPayloadShape},
	{name: MiningPermission, check: checkMiningPermission},
	{name: TimeSlot, check: checkTimeSlot},
	{name: ContinuousBlocks, check: checkContinuousBlocks},
	{name: PreviousInValueIntegrity, check: checkPreviousInValueIntegrity},
	{name: LibMonotonicity, check: checkLibMonotonicity},
	{name: UpdateValue, check: checkUpdateValue},
	{name: TinyBlock, check: checkTinyBlock},
	{name: RoundTerminate, check: checkRoundTerminate},
	{name: NextRoundMiningOrder, check: checkNextRoundMiningOrder},
	{name: RoundConsistency, check: checkRoundConsistency},
}

// Validate runs every validator in order and stops at the first failure,
// which is returned as a [*RejectionError].
func (p Pipeline) Validate(in Input) (Result, error) {
	var res Result
	for _, s := range stages {
		if err := s.check(p, in, &res); err != nil {
			return Result{}, &RejectionError{Validator: s.name, Err: err}
		}
	}
	return res, nil
}
