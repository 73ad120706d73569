// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts orchestrator operations by name and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "operations_total",
		Help:      "Escrow orchestrator operations by operation and result.",
	}, []string{"operation", "result"})

	// ProcessorCallDuration measures payment processor call latency.
	ProcessorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "escrow",
		Name:      "processor_call_duration_seconds",
		Help:      "Payment processor call latency by call type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})

	// ReleasesTotal counts successful milestone releases.
	ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "releases_total",
		Help:      "Milestone releases committed.",
	})

	// OpenDisputes tracks currently open dispute cases.
	OpenDisputes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrow",
		Name:      "open_disputes",
		Help:      "Dispute cases currently open or under review.",
	})
)
