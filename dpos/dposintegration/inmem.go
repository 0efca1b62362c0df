package dposintegration

import (
	"context"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus/dposconsensustest"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/dpos/dposstore/dposmemstore"
)

// InmemStoreFactory is meant to be embedded in another [dposintegration.Factory]
// to provide in-memory implementations of stores.
type InmemStoreFactory struct{}

func (f InmemStoreFactory) NewRoundStore(ctx context.Context, idx int) (dposstore.RoundStore, error) {
	return dposmemstore.NewRoundStore(), nil
}

func (f InmemStoreFactory) NewFinalizationStore(ctx context.Context, idx int) (dposstore.FinalizationStore, error) {
	return dposmemstore.NewFinalizationStore(), nil
}

type InmemSchemeFactory struct{}

func (f InmemSchemeFactory) HashScheme(ctx context.Context, idx int) (dposconsensus.HashScheme, error) {
	return dposconsensustest.SimpleHashScheme{}, nil
}
