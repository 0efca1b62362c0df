package dpossim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
)

// Node is one participant in a [Network].
type Node struct {
	Name string

	Engine *dposengine.Engine

	// Producers are the local miners hosted by the node.
	// A node without producers only follows.
	Producers []*dposengine.Producer
}

// Network delivers every produced payload to every node.
type Network struct {
	log *slog.Logger

	nodes []*Node

	// Keys of silenced miners.
	silent map[string]struct{}

	height uint64

	onPayload func(dposconsensus.Payload)
}

// NewNetwork returns a network of the given nodes
// at the height of the first node's engine.
func NewNetwork(log *slog.Logger, nodes []*Node) *Network {
	if len(nodes) == 0 {
		panic(errors.New("BUG: NewNetwork requires at least one node"))
	}
	return &Network{
		log:    log,
		nodes:  nodes,
		silent: make(map[string]struct{}),

		height: nodes[0].Engine.Height(),
	}
}

// Height returns the height of the last delivered block.
func (n *Network) Height() uint64 {
	return n.height
}

// Nodes returns the network's nodes.
func (n *Network) Nodes() []*Node {
	return n.nodes
}

// OnPayload sets a function called with every payload after all nodes applied it.
func (n *Network) OnPayload(fn func(dposconsensus.Payload)) {
	n.onPayload = fn
}

// Silence stops the miner with the given public key bytes from producing.
// It keeps following the chain.
func (n *Network) Silence(pubKey []byte) {
	n.silent[string(pubKey)] = struct{}{}
}

// Unsilence undoes [Network.Silence].
func (n *Network) Unsilence(pubKey []byte) {
	delete(n.silent, string(pubKey))
}

// Tick gives every producer one chance to produce at now,
// in node order, and delivers each payload to all nodes.
// It returns the number of payloads produced.
func (n *Network) Tick(ctx context.Context, now time.Time) (int, error) {
	produced := 0
	for _, node := range n.nodes {
		for _, p := range node.Producers {
			if _, ok := n.silent[string(p.PubKey().PubKeyBytes())]; ok {
				continue
			}

			payload, ok, err := p.Propose(ctx, n.height+1, now)
			if err != nil {
				var notMiner dposconsensus.NotMinerError
				if errors.As(err, &notMiner) {
					// Not elected this term.
					continue
				}
				return produced, fmt.Errorf("node %s failed to propose: %w", node.Name, err)
			}
			if !ok {
				continue
			}

			if err := n.deliver(ctx, payload); err != nil {
				return produced, err
			}
			n.height++
			produced++

			if n.onPayload != nil {
				n.onPayload(payload)
			}
		}
	}
	return produced, nil
}

func (n *Network) deliver(ctx context.Context, p dposconsensus.Payload) error {
	for _, node := range n.nodes {
		if err := node.Engine.HandlePayload(ctx, p); err != nil {
			return fmt.Errorf(
				"node %s rejected %s at height %d: %w",
				node.Name, p.Behaviour, p.Height, err,
			)
		}
	}
	return nil
}

// Run ticks every step from start until the first tick at or after end,
// checking after each tick that all nodes agree.
// It stops early when ctx is canceled or stop, if set, returns true.
func (n *Network) Run(
	ctx context.Context,
	start, end time.Time,
	step time.Duration,
	stop func() bool,
) error {
	if step <= 0 {
		return fmt.Errorf("step must be positive (got %s)", step)
	}

	for now := start; now.Before(end); now = now.Add(step) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := n.Tick(ctx, now); err != nil {
			return err
		}
		if err := n.CheckAgreement(); err != nil {
			return err
		}

		if stop != nil && stop() {
			return nil
		}
	}
	return nil
}

// CheckAgreement returns a [DivergenceError]
// if any node's current round differs from the first node's.
func (n *Network) CheckAgreement() error {
	ref := n.nodes[0]
	r := ref.Engine.CurrentRound()
	want, err := ref.Engine.HashScheme().Round(r)
	if err != nil {
		return err
	}

	for _, node := range n.nodes[1:] {
		got, err := node.Engine.HashScheme().Round(node.Engine.CurrentRound())
		if err != nil {
			return err
		}
		if !bytes.Equal(want, got) {
			return DivergenceError{
				Node:        node.Name,
				RoundNumber: r.Number,
				Want:        want,
				Got:         got,
			}
		}
	}
	return nil
}

// DivergenceError indicates that two nodes hold different current rounds.
type DivergenceError struct {
	Node        string
	RoundNumber uint64

	Want, Got []byte
}

func (e DivergenceError) Error() string {
	return fmt.Sprintf(
		"node %s diverged at round %d: want hash %x, got %x",
		e.Node, e.RoundNumber, e.Want, e.Got,
	)
}
