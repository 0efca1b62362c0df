package dpossecret

import (
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/gcrypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/encrypt/ecies"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/util/random"
)

// suite returns the edwards25519 suite, drawing randomness from rand if set.
func suite(rand io.Reader) *edwards25519.SuiteEd25519 {
	if rand == nil {
		return edwards25519.NewBlakeSHA256Ed25519()
	}
	return edwards25519.NewBlakeSHA256Ed25519WithRand(random.New(rand))
}

// Threshold returns how many pieces recover an in value in a round of n miners.
func Threshold(n int) int {
	return max(1, n*2/3)
}

// NewInValue returns a fresh in value: the canonical encoding of a random scalar,
// so that it can be split into pieces.
// If rand is nil, the system's secure random source is used.
func NewInValue(rand io.Reader) ([]byte, error) {
	s := suite(rand)
	return s.Scalar().Pick(s.RandomStream()).MarshalBinary()
}

// SplitInValue splits inValue into one encrypted piece per miner of r other than owner.
// Each piece's index is the recipient's order in r,
// and the piece is encrypted to the recipient's ed25519 key.
func SplitInValue(inValue []byte, r *dposconsensus.Round, owner gcrypto.PubKey, rand io.Reader) ([]dposconsensus.Piece, error) {
	s := suite(rand)

	secret := s.Scalar()
	if err := secret.UnmarshalBinary(inValue); err != nil {
		return nil, fmt.Errorf("in value is not a scalar: %w", err)
	}

	n := len(r.Miners)
	poly := share.NewPriPoly(s, Threshold(n), secret, s.RandomStream())
	shares := poly.Shares(n)

	pieces := make([]dposconsensus.Piece, 0, n-1)
	for i := range r.Miners {
		m := &r.Miners[i]
		if m.PubKey.Equal(owner) {
			continue
		}

		point, err := pointFromPubKey(s, m.PubKey)
		if err != nil {
			return nil, err
		}

		sh, err := shares[m.Order-1].V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal share: %w", err)
		}

		ct, err := ecies.Encrypt(s, point, sh, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt piece for order %d: %w", m.Order, err)
		}
		pieces = append(pieces, dposconsensus.Piece{Index: m.Order, Data: ct})
	}
	return pieces, nil
}

func pointFromPubKey(s *edwards25519.SuiteEd25519, pk gcrypto.PubKey) (kyber.Point, error) {
	if _, ok := pk.(gcrypto.Ed25519PubKey); !ok {
		return nil, UnsupportedKeyError{TypeName: pk.TypeName()}
	}
	p := s.Point()
	if err := p.UnmarshalBinary(pk.PubKeyBytes()); err != nil {
		return nil, fmt.Errorf("public key is not a curve point: %w", err)
	}
	return p, nil
}

// PieceKey decrypts the pieces encrypted to one miner.
type PieceKey struct {
	s kyber.Scalar
}

// PieceKeyFromEd25519Seed derives the decryption key matching
// the ed25519 public key generated from seed.
func PieceKeyFromEd25519Seed(seed []byte) PieceKey {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return PieceKey{s: suite(nil).Scalar().SetBytes(h[:32])}
}

// Decrypt returns the share held in an encrypted piece.
func (k PieceKey) Decrypt(ciphertext []byte) ([]byte, error) {
	return ecies.Decrypt(suite(nil), k.s, ciphertext, nil)
}

// RecoverInValue recombines decrypted pieces of an in value
// that was split among n miners.
// Pieces are indexed by the recipient's 1-based order.
func RecoverInValue(pieces []dposconsensus.Piece, n int) ([]byte, error) {
	t := Threshold(n)
	if len(pieces) < t {
		return nil, InsufficientPiecesError{Have: len(pieces), Need: t}
	}

	s := suite(nil)
	shares := make([]*share.PriShare, 0, len(pieces))
	for _, p := range pieces {
		if p.Index == 0 || int(p.Index) > n {
			return nil, fmt.Errorf("piece index %d out of range for %d miners", p.Index, n)
		}
		v := s.Scalar()
		if err := v.UnmarshalBinary(p.Data); err != nil {
			return nil, fmt.Errorf("piece %d is not a scalar: %w", p.Index, err)
		}
		shares = append(shares, &share.PriShare{I: int(p.Index) - 1, V: v})
	}

	secret, err := share.RecoverSecret(s, shares, t, n)
	if err != nil {
		return nil, fmt.Errorf("failed to recover in value: %w", err)
	}
	return secret.MarshalBinary()
}
