package gcmd

import (
	"crypto/ed25519"

	"github.com/gordian-engine/gdpos/dpos/dpossecret"
	"github.com/gordian-engine/gdpos/gcrypto"
	"golang.org/x/crypto/blake2b"
)

// SignerFromInsecurePassphrase derives an ed25519 signer
// from the blake2b hash of prefix and the passphrase.
// Anyone who knows the passphrase holds the key.
func SignerFromInsecurePassphrase(prefix, insecurePassphrase string) (gcrypto.Ed25519Key, error) {
	bh, err := blake2b.New(ed25519.SeedSize, nil)
	if err != nil {
		return gcrypto.Ed25519Key{}, err
	}
	bh.Write([]byte(prefix + insecurePassphrase))
	seed := bh.Sum(nil)

	privKey := ed25519.NewKeyFromSeed(seed)

	return gcrypto.NewEd25519Key(privKey), nil
}

// PieceKeyFromSigner returns the key decrypting the in value pieces
// that other miners encrypt to s's public key.
func PieceKeyFromSigner(s gcrypto.Ed25519Key) dpossecret.PieceKey {
	return dpossecret.PieceKeyFromEd25519Seed(s.Seed())
}

// BeaconKeyFromInsecurePassphrase derives the 32-byte key
// of a keyed randomness beacon.
func BeaconKeyFromInsecurePassphrase(prefix, insecurePassphrase string) []byte {
	k := blake2b.Sum256([]byte(prefix + "randomness|" + insecurePassphrase))
	return k[:]
}
