package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_oracle_events_received_total",
			Help: "ClaimSubmitted events received, by delivery path",
		},
		[]string{"source"},
	)

	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_oracle_events_deduplicated_total",
			Help: "Events dropped because the claim was already processed",
		},
		[]string{"source"},
	)

	EventsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_oracle_events_malformed_total",
			Help: "Events dropped because they carried no usable claim id",
		},
	)

	SkippedBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_oracle_poll_skipped_blocks_total",
			Help: "Blocks the poll cursor moved past without a successful query",
		},
	)

	LastScannedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claim_oracle_last_scanned_height",
			Help: "Highest block covered by the poll path",
		},
	)

	PushSubscribed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claim_oracle_push_subscribed",
			Help: "1 while a push subscription is active",
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claim_oracle_claims_in_flight",
			Help: "Claims currently in the evaluation pipeline",
		},
	)

	// Ledger connection metrics
	LedgerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claim_oracle_ledger_connected",
			Help: "1 while the ledger session is connected",
		},
	)

	// Pipeline metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_oracle_decisions_total",
			Help: "Decisions made, by outcome",
		},
		[]string{"outcome"},
	)

	VerificationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_oracle_verification_calls_total",
			Help: "Verification collaborator calls, by verdict",
		},
		[]string{"verified"},
	)

	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_oracle_ledger_commits_total",
			Help: "Ledger commit attempts, by outcome",
		},
		[]string{"outcome"},
	)

	LedgerWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_oracle_ledger_write_failures_total",
			Help: "Decisions that could not be committed to the ledger",
		},
	)

	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claim_oracle_ledger_commit_duration_seconds",
			Help:    "Duration of evaluateClaim including receipt wait",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_oracle_sync_failures_total",
			Help: "Final states that could not be pushed to the system of record",
		},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claim_oracle_pipeline_duration_seconds",
			Help:    "End-to-end duration of a claim evaluation",
			Buckets: prometheus.DefBuckets,
		},
	)

	PipelinePanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_oracle_pipeline_panics_total",
			Help: "Recovered panics in the claim pipeline",
		},
	)

	// Operator surface
	TriggerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_oracle_trigger_rejected_total",
			Help: "Manual triggers rejected, by reason",
		},
		[]string{"reason"},
	)
)

// BoolGauge sets g to 1 or 0.
func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
