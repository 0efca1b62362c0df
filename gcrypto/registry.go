package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// Prefixes are encoded as a fixed width.
const prefixSize = 8

// Registry encodes miner public keys with a type prefix,
// so that rounds stored or sent over the wire can hold keys of any registered type.
//
// The zero value is ready to use.
// Registration must complete before concurrent use.
type Registry struct {
	byType map[reflect.Type]string

	byPrefix map[string]NewPubKeyFunc
}

type NewPubKeyFunc func([]byte) (PubKey, error)

// Register associates name with the concrete type of inst.
// It panics if the name is empty, longer than the fixed prefix width,
// or already registered.
func (r *Registry) Register(name string, inst PubKey, newFn NewPubKeyFunc) {
	if name == "" || len(name) > prefixSize {
		panic(fmt.Errorf("BUG: public key type name %q must be 1-%d bytes", name, prefixSize))
	}

	if r.byPrefix == nil {
		r.byPrefix = map[string]NewPubKeyFunc{}
	}
	if _, ok := r.byPrefix[name]; ok {
		panic(fmt.Errorf("BUG: public key type name %q registered twice", name))
	}
	r.byPrefix[name] = newFn

	if r.byType == nil {
		r.byType = map[reflect.Type]string{}
	}
	r.byType[reflect.TypeOf(inst)] = name
}

// Marshal returns the key's bytes behind a fixed-width type prefix.
// It panics for a key type that was never registered.
func (r *Registry) Marshal(pubKey PubKey) []byte {
	var nameHeader [prefixSize]byte

	typ := reflect.TypeOf(pubKey)
	prefix, ok := r.byType[typ]
	if !ok {
		panic(fmt.Errorf(
			"BUG: attempted to Marshal a public key that was never registered (reflect type: %s, type name: %s)",
			typ, pubKey.TypeName(),
		))
	}

	copy(nameHeader[:], prefix)

	return append(nameHeader[:], pubKey.PubKeyBytes()...)
}

// Unmarshal decodes a key produced by [*Registry.Marshal].
// The returned key may retain a reference to b.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) <= prefixSize {
		return nil, fmt.Errorf("encoded public key too short: %d bytes", len(b))
	}
	prefix := bytes.TrimRight(b[:prefixSize], "\x00")

	fn := r.byPrefix[string(prefix)]
	if fn == nil {
		return nil, fmt.Errorf("no registered public key type for prefix %q", prefix)
	}

	return fn(b[prefixSize:])
}
