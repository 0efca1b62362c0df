// Package dposcodec converts consensus rounds and payloads to and from byte slices.
//
// The [WireRound] and [WirePayload] types are plain data shared by every codec.
// Public keys are encoded through a [gcrypto.Registry],
// times as UTC milliseconds, and in values are never encoded.
package dposcodec

import "github.com/gordian-engine/gdpos/dpos/dposconsensus"

// Marshaler serializes consensus values to byte slices.
type Marshaler interface {
	MarshalRound(*dposconsensus.Round) ([]byte, error)
	MarshalPayload(dposconsensus.Payload) ([]byte, error)
}

// Unmarshaler deserializes byte slices into consensus values.
// A decoded round has already been reindexed.
type Unmarshaler interface {
	UnmarshalRound([]byte) (*dposconsensus.Round, error)
	UnmarshalPayload([]byte, *dposconsensus.Payload) error
}

// MarshalCodec marshals and unmarshals consensus values.
type MarshalCodec interface {
	Marshaler
	Unmarshaler
}
