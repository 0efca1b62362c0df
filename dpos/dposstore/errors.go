package dposstore

import (
	"errors"
	"fmt"
)

// ErrStoreUninitialized is returned when loading the latest round from an empty store.
var ErrStoreUninitialized = errors.New("store uninitialized")

// RoundUnknownError is returned when loading a round that was never saved or was pruned.
type RoundUnknownError struct {
	Want uint64
}

func (e RoundUnknownError) Error() string {
	return fmt.Sprintf("unknown round %d", e.Want)
}

// IrreversibleHeightRegressionError is returned when saving
// an irreversible height below the stored one.
type IrreversibleHeightRegressionError struct {
	Stored, Candidate uint64
}

func (e IrreversibleHeightRegressionError) Error() string {
	return fmt.Sprintf(
		"irreversible height must not regress: stored %d, attempted %d",
		e.Stored, e.Candidate,
	)
}
