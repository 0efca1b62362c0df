package gcrypto

import (
	"crypto/ed25519"
)

const ed25519TypeName = "ed25519"

// RegisterEd25519 adds ed25519 miner keys to reg.
func RegisterEd25519(reg *Registry) {
	reg.Register(ed25519TypeName, Ed25519PubKey{}, NewEd25519PubKey)
}

// Ed25519PubKey is a miner's ed25519 public key.
// Miners with ed25519 keys can receive encrypted secret pieces.
type Ed25519PubKey ed25519.PublicKey

// NewEd25519PubKey wraps b as a public key.
// The returned key retains a reference to b.
func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, PubKeyLengthError{
			TypeName: ed25519TypeName,
			Want:     ed25519.PublicKeySize,
			Got:      len(b),
		}
	}
	return Ed25519PubKey(b), nil
}

func (k Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(k)
}

func (k Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	return ok && ed25519.PublicKey(k).Equal(ed25519.PublicKey(o))
}

func (Ed25519PubKey) TypeName() string {
	return ed25519TypeName
}

// Ed25519Key is the private key of a local miner.
type Ed25519Key struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

func NewEd25519Key(priv ed25519.PrivateKey) Ed25519Key {
	return Ed25519Key{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

// PubKey returns the key the miner is listed under in rounds.
func (k Ed25519Key) PubKey() PubKey {
	return k.pub
}

// Seed returns the 32-byte seed the private key was derived from.
// Miners derive their secret-sharing decryption key from it.
func (k Ed25519Key) Seed() []byte {
	return k.priv.Seed()
}
