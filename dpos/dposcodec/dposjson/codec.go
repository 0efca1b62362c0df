// Package dposjson is a [dposcodec.MarshalCodec] producing JSON.
package dposjson

import (
	"encoding/json"

	"github.com/gordian-engine/gdpos/dpos/dposcodec"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// MarshalCodec is a [dposcodec.MarshalCodec] that
// translates consensus values to and from JSON.
type MarshalCodec struct {
	CryptoRegistry *gcrypto.Registry
}

var _ dposcodec.MarshalCodec = MarshalCodec{}

func (c MarshalCodec) MarshalRound(r *dposconsensus.Round) ([]byte, error) {
	return json.Marshal(dposcodec.ToWireRound(r, c.CryptoRegistry))
}

func (c MarshalCodec) UnmarshalRound(b []byte) (*dposconsensus.Round, error) {
	var w dposcodec.WireRound
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	return w.ToRound(c.CryptoRegistry)
}

func (c MarshalCodec) MarshalPayload(p dposconsensus.Payload) ([]byte, error) {
	return json.Marshal(dposcodec.ToWirePayload(p, c.CryptoRegistry))
}

func (c MarshalCodec) UnmarshalPayload(b []byte, p *dposconsensus.Payload) error {
	var w dposcodec.WirePayload
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var err error
	*p, err = w.ToPayload(c.CryptoRegistry)
	return err
}
