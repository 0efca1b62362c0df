package dposconsensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/internal/glog"
)

// ErrEmptyMinerList is returned when a round or an election result has no miners.
var ErrEmptyMinerList = errors.New("miner list is empty")

// NotMinerError indicates that a public key has no slot in the referenced round.
type NotMinerError struct {
	PubKey      gcrypto.PubKey
	RoundNumber uint64
}

func (e NotMinerError) Error() string {
	return fmt.Sprintf("%x is not a miner in round %d", pubKeyBytes(e.PubKey), e.RoundNumber)
}

// DuplicateOrderError indicates two miners share an order within one round.
type DuplicateOrderError struct {
	Order uint32
}

func (e DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate miner order %d", e.Order)
}

// OrderGapError indicates the miner orders are not the contiguous range 1..N.
type OrderGapError struct {
	Want, Got uint32
}

func (e OrderGapError) Error() string {
	return fmt.Sprintf("miner orders must be contiguous from 1: want order %d, got %d", e.Want, e.Got)
}

// DuplicateMinerError indicates a public key appears twice in one round.
type DuplicateMinerError struct {
	PubKey gcrypto.PubKey
}

func (e DuplicateMinerError) Error() string {
	return fmt.Sprintf("duplicate miner %x", pubKeyBytes(e.PubKey))
}

// NonPositiveMiningIntervalError guards every computation that would divide
// by, or step forward by, the mining interval.
type NonPositiveMiningIntervalError struct {
	RoundNumber uint64
	Interval    time.Duration
}

func (e NonPositiveMiningIntervalError) Error() string {
	return fmt.Sprintf("round %d has non-positive mining interval %s", e.RoundNumber, e.Interval)
}

// ConfigError describes one invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func pubKeyBytes(pk gcrypto.PubKey) glog.Hex {
	if pk == nil {
		return nil
	}
	return pk.PubKeyBytes()
}
