// Package dposcbor is a [dposcodec.MarshalCodec] producing deterministic CBOR.
//
// Identical values always encode to identical bytes,
// so encoded rounds may be compared or hashed directly.
package dposcbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gordian-engine/gdpos/dpos/dposcodec"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("BUG: invalid CBOR encoding options: %w", err))
	}
}

// MarshalCodec is a [dposcodec.MarshalCodec] that
// translates consensus values to and from CBOR.
type MarshalCodec struct {
	CryptoRegistry *gcrypto.Registry
}

var _ dposcodec.MarshalCodec = MarshalCodec{}

func (c MarshalCodec) MarshalRound(r *dposconsensus.Round) ([]byte, error) {
	return encMode.Marshal(dposcodec.ToWireRound(r, c.CryptoRegistry))
}

func (c MarshalCodec) UnmarshalRound(b []byte) (*dposconsensus.Round, error) {
	var w dposcodec.WireRound
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	return w.ToRound(c.CryptoRegistry)
}

func (c MarshalCodec) MarshalPayload(p dposconsensus.Payload) ([]byte, error) {
	return encMode.Marshal(dposcodec.ToWirePayload(p, c.CryptoRegistry))
}

func (c MarshalCodec) UnmarshalPayload(b []byte, p *dposconsensus.Payload) error {
	var w dposcodec.WirePayload
	if err := cbor.Unmarshal(b, &w); err != nil {
		return err
	}

	var err error
	*p, err = w.ToPayload(c.CryptoRegistry)
	return err
}
