package dposconsensustest

import (
	"bytes"
	"encoding/binary"

	"github.com/gordian-engine/gdpos/gcrypto"
)

const commonPrefixTypeName = "cprefix"

// CommonPrefixPubKey is a test-only public key whose encoding
// starts with the same 31 bytes as every other CommonPrefixPubKey,
// mimicking fixed-format key encodings where leading bytes carry no entropy.
// It cannot verify signatures.
type CommonPrefixPubKey []byte

// RegisterCommonPrefix registers [CommonPrefixPubKey] with reg.
func RegisterCommonPrefix(reg *gcrypto.Registry) {
	reg.Register(commonPrefixTypeName, CommonPrefixPubKey{}, func(b []byte) (gcrypto.PubKey, error) {
		return CommonPrefixPubKey(b), nil
	})
}

// CommonPrefixPubKeys returns n distinct keys sharing a 31-byte prefix.
// The distinguishing suffix is deliberately not in the same order as the returned slice,
// so a sort over the full key must actually reorder them.
func CommonPrefixPubKeys(n int) []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, n)
	for i := range out {
		b := bytes.Repeat([]byte{0x04}, 31)
		b = binary.BigEndian.AppendUint16(b, uint16((n-i)*7+3))
		out[i] = CommonPrefixPubKey(b)
	}
	return out
}

func (k CommonPrefixPubKey) PubKeyBytes() []byte {
	return []byte(k)
}

func (k CommonPrefixPubKey) Equal(other gcrypto.PubKey) bool {
	o, ok := other.(CommonPrefixPubKey)
	return ok && bytes.Equal(k, o)
}

func (CommonPrefixPubKey) TypeName() string {
	return commonPrefixTypeName
}
