package dposround

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// ErrMissingRandomSeed is returned when a signature or a new term
// would have to be derived without randomness the miner could not choose.
var ErrMissingRandomSeed = errors.New("random seed is required")

// InconsistentOrderError indicates that the next-round orders
// recorded in a round cannot form a valid next round.
type InconsistentOrderError struct {
	PubKey gcrypto.PubKey
	Order  uint32
	Reason string
}

func (e InconsistentOrderError) Error() string {
	var pk glog.Hex
	if e.PubKey != nil {
		pk = e.PubKey.PubKeyBytes()
	}
	return fmt.Sprintf("next round order %d of %x: %s", e.Order, pk, e.Reason)
}
