package gcrypto

// PubKey identifies a miner.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	// TypeName is the name the key was registered under in a [Registry].
	TypeName() string
}
