package dposoracle

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Commitment returns the commitment to a seed value.
func Commitment(seed []byte) [32]byte {
	return blake3.Sum256(seed)
}

// CommitRevealBeacon is a [RandomnessOracle] fed by a commit-reveal protocol.
// A seed is committed to ahead of its height and revealed afterwards;
// until the reveal, [CommitRevealBeacon.RandomSeed] reports [SeedUnavailableError].
//
// Commitments and reveals are each write-once per height.
type CommitRevealBeacon struct {
	mu sync.RWMutex

	commitments map[uint64][32]byte
	seeds       map[uint64][]byte
}

func NewCommitRevealBeacon() *CommitRevealBeacon {
	return &CommitRevealBeacon{
		commitments: make(map[uint64][32]byte),
		seeds:       make(map[uint64][]byte),
	}
}

// Commit records the commitment for height.
func (b *CommitRevealBeacon) Commit(height uint64, commitment [32]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.commitments[height]; ok {
		return CommitmentExistsError{Height: height}
	}
	b.commitments[height] = commitment
	return nil
}

// Reveal publishes seed for height, after checking it against the commitment.
// Revealing the same seed again is a no-op.
func (b *CommitRevealBeacon) Reveal(height uint64, seed []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.commitments[height]
	if !ok {
		return RevealMismatchError{Height: height, Reason: "no commitment"}
	}
	if Commitment(seed) != c {
		return RevealMismatchError{Height: height, Reason: "seed does not match commitment"}
	}
	if existing, ok := b.seeds[height]; ok {
		if bytes.Equal(existing, seed) {
			return nil
		}
		// Unreachable with a collision-resistant hash.
		panic(fmt.Errorf("BUG: two seeds match commitment at height %d", height))
	}
	b.seeds[height] = bytes.Clone(seed)
	return nil
}

func (b *CommitRevealBeacon) RandomSeed(_ context.Context, height uint64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.seeds[height]
	if !ok {
		return nil, SeedUnavailableError{Height: height}
	}
	return bytes.Clone(s), nil
}

// KeyedBeacon is a [RandomnessOracle] deriving each height's seed
// from a secret key with keyed BLAKE3.
// It suits simulations and tests, where the key holder is trusted.
type KeyedBeacon struct {
	key []byte
}

// NewKeyedBeacon returns a beacon using key, which must be 32 bytes.
func NewKeyedBeacon(key []byte) (*KeyedBeacon, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("keyed beacon requires a 32-byte key, got %d bytes", len(key))
	}
	return &KeyedBeacon{key: bytes.Clone(key)}, nil
}

func (b *KeyedBeacon) RandomSeed(_ context.Context, height uint64) ([]byte, error) {
	h, err := blake3.NewKeyed(b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyed hasher: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	_, _ = h.Write([]byte("gdpos random seed\n"))
	_, _ = h.Write(buf[:])
	return h.Sum(nil), nil
}
