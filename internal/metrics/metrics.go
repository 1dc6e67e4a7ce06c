// Package metrics exposes the Prometheus collectors the ingestion core
// publishes: decision counts by outcome/reason, duplicate submissions,
// ingest transaction latency, and KPI rebuild latency.
//
// Import Path: servicebox.io/fsmcore/internal/metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decisions counts every Decision an Orchestrator.Ingest call returns,
// labeled by event_type, decision outcome, and reason code (empty on a
// fresh ACCEPTED, DUPLICATE_IGNORED on a duplicate).
var Decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fsmcore",
		Subsystem: "ingestion",
		Name:      "decisions_total",
		Help:      "Total validation decisions by event_type, outcome and reason code.",
	},
	[]string{"event_type", "decision", "reason_code"},
)

// DuplicateEvents counts idempotent duplicate submissions short-circuited
// by the event store's unique-constraint collision path.
var DuplicateEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fsmcore",
		Subsystem: "ingestion",
		Name:      "duplicate_events_total",
		Help:      "Total duplicate submissions detected by idempotency key.",
	},
	[]string{"event_type"},
)

// IngestDuration observes the wall time of a full validate-append-apply
// transaction, labeled by event_type.
var IngestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fsmcore",
		Subsystem: "ingestion",
		Name:      "ingest_duration_seconds",
		Help:      "Latency of the validate-append-apply transaction.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"event_type"},
)

// KPIRebuildDuration observes the wall time of a KPI rebuild run.
var KPIRebuildDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fsmcore",
		Subsystem: "kpi",
		Name:      "rebuild_duration_seconds",
		Help:      "Latency of a kpi_daily rebuild run.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
	},
)

// Registry is the collector registry the HTTP /metrics endpoint serves.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(Decisions, DuplicateEvents, IngestDuration, KPIRebuildDuration)
}
