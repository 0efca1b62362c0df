package dposoracle

import (
	"context"
	"slices"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
)

// StaticElection is an [ElectionOracle] with fixed results.
type StaticElection struct {
	// Default is returned for any term without an override.
	Default []dposconsensus.ElectedMiner

	ByTerm map[uint64][]dposconsensus.ElectedMiner
}

func (e StaticElection) GetElectedMiners(_ context.Context, term uint64) ([]dposconsensus.ElectedMiner, error) {
	if ms, ok := e.ByTerm[term]; ok {
		return slices.Clone(ms), nil
	}
	if len(e.Default) == 0 {
		return nil, NoElectionError{Term: term}
	}
	return slices.Clone(e.Default), nil
}
