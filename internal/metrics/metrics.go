// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts roll state machine outcomes by transaction type
	// ("in", "out", "batch_out", "edit", "delete") and result
	// ("ok", "validation", "not_found", "conflict", "internal").
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bolttrack",
		Name:      "roll_transitions_total",
		Help:      "Roll transactions by type and result.",
	}, []string{"type", "result"})

	// GapsDetected counts predecessor gaps found at stock-in commit time.
	GapsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bolttrack",
		Name:      "gaps_detected_total",
		Help:      "Sequence gaps detected at stock-in.",
	})

	// BarcodesAllocated counts issued barcodes per size.
	BarcodesAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bolttrack",
		Name:      "barcodes_allocated_total",
		Help:      "Barcodes issued by the allocator.",
	}, []string{"size"})

	// AllocationConflicts counts allocation batches rejected by the
	// (year, size, sequence) uniqueness constraint.
	AllocationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bolttrack",
		Name:      "allocation_conflicts_total",
		Help:      "Allocation batches lost to a concurrent allocation.",
	})

	// BroadcastDropped counts real-time events dropped because a queue was full.
	BroadcastDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bolttrack",
		Name:      "broadcast_dropped_total",
		Help:      "Real-time events dropped before delivery.",
	}, []string{"stage"})

	// AuditDropped counts audit entries that could not be persisted.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bolttrack",
		Name:      "audit_dropped_total",
		Help:      "Audit entries dropped or failed to persist.",
	})

	// OutstandingGaps is the latest sweep's gap count per (year, size).
	OutstandingGaps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bolttrack",
		Name:      "outstanding_gaps",
		Help:      "Sequence gaps found by the last integrity sweep.",
	}, []string{"year", "size"})
)
