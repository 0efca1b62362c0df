package gcryptotest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/gordian-engine/gdpos/gcrypto"
)

var (
	muEd             sync.Mutex
	generatedEd25519 []ed25519.PrivateKey
)

// DeterministicEd25519Keys returns n miner keys that are the same on every run,
// so keys in test logs stay stable.
// Generated keys are cached across calls.
func DeterministicEd25519Keys(n int) []gcrypto.Ed25519Key {
	muEd.Lock()
	defer muEd.Unlock()

	for i := len(generatedEd25519); i < n; i++ {
		seed := fmt.Sprintf("%032d", i) // Seed must be 32 bytes long.
		generatedEd25519 = append(generatedEd25519, ed25519.NewKeyFromSeed([]byte(seed)))
	}

	res := make([]gcrypto.Ed25519Key, n)
	for i := range res {
		res[i] = gcrypto.NewEd25519Key(bytes.Clone(generatedEd25519[i]))
	}
	return res
}
