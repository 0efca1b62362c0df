// Package dposmetrics exposes consensus engine state as Prometheus metrics.
//
// A nil *Metrics is valid and records nothing.
package dposmetrics

import (
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gdpos"

// Metrics are the collectors updated by the engine.
type Metrics struct {
	RoundNumber        prometheus.Gauge
	TermNumber         prometheus.Gauge
	IrreversibleHeight prometheus.Gauge
	MaximumBlocksCount prometheus.Gauge

	// Labeled by behaviour.
	PayloadsApplied *prometheus.CounterVec

	// Labeled by the name of the rejecting validator.
	PayloadsRejected *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RoundNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_number",
			Help:      "Number of the current round.",
		}),
		TermNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "term_number",
			Help:      "Term of the current round.",
		}),
		IrreversibleHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "irreversible_height",
			Help:      "Last irreversible block height.",
		}),
		MaximumBlocksCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maximum_blocks_count",
			Help:      "Blocks a miner may currently produce in one time slot.",
		}),
		PayloadsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_applied_total",
			Help:      "Consensus payloads applied, by behaviour.",
		}, []string{"behaviour"}),
		PayloadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_rejected_total",
			Help:      "Consensus payloads rejected, by validator.",
		}, []string{"validator"}),
	}

	for _, c := range []prometheus.Collector{
		m.RoundNumber, m.TermNumber, m.IrreversibleHeight, m.MaximumBlocksCount,
		m.PayloadsApplied, m.PayloadsRejected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRound records the state of a newly current round.
func (m *Metrics) ObserveRound(r *dposconsensus.Round, maxBlocks int) {
	if m == nil {
		return
	}
	m.RoundNumber.Set(float64(r.Number))
	m.TermNumber.Set(float64(r.TermNumber))
	m.IrreversibleHeight.Set(float64(r.ConfirmedIrreversibleBlockHeight))
	m.MaximumBlocksCount.Set(float64(maxBlocks))
}

func (m *Metrics) Applied(b dposconsensus.Behaviour) {
	if m == nil {
		return
	}
	m.PayloadsApplied.WithLabelValues(b.String()).Inc()
}

func (m *Metrics) Rejected(validator string) {
	if m == nil {
		return
	}
	m.PayloadsRejected.WithLabelValues(validator).Inc()
}
