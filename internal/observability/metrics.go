// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	CriticalFailures   prometheus.Counter

	// Bid metrics
	BidsPlaced   prometheus.Counter
	BidsRejected *prometheus.CounterVec
	BidLatency   prometheus.Histogram

	// Creation metrics
	AuctionsCreated   prometheus.Counter
	OrphanedCreations prometheus.Counter
	OrphansAdopted    prometheus.Counter

	// Dependency metrics
	BreakerState   *prometheus.GaugeVec
	RPCCallLatency *prometheus.HistogramVec
	DBQueryErrors  *prometheus.CounterVec

	// Chain clock metrics
	ChainClockSkew  prometheus.Gauge
	LatestBlockSeen prometheus.Gauge

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "auction_engine"
	}

	return &Metrics{
		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "resolutions_total",
			Help:      "Total identifier resolutions by chain step and status",
		}, []string{"step", "status"}),
		ResolutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "resolution_duration_seconds",
			Help:      "Identifier resolution duration",
			Buckets:   prometheus.DefBuckets,
		}),
		CriticalFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "critical_failures_total",
			Help:      "Total resolutions that exhausted every fallback step",
		}),
		BidsPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "bids_placed_total",
			Help:      "Total bid transactions submitted to the ledger",
		}),
		BidsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "bids_rejected_total",
			Help:      "Total bids rejected by reason",
		}, []string{"reason"}),
		BidLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "bid_duration_seconds",
			Help:      "End-to-end bid placement duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AuctionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "auctions_created_total",
			Help:      "Total emergency on-chain auction creations",
		}),
		OrphanedCreations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "orphaned_creations_total",
			Help:      "Total creations mined without a persisted identifier",
		}),
		OrphansAdopted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "orphans_adopted_total",
			Help:      "Total orphaned on-chain auctions re-linked to their rows",
		}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state by dependency (0=closed, 1=open, 2=half-open)",
		}, []string{"dependency"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_duration_seconds",
			Help:      "Ledger RPC call duration by method",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_errors_total",
			Help:      "Total database errors by store and operation",
		}, []string{"store", "operation"}),
		ChainClockSkew: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chaintime",
			Name:      "clock_skew_seconds",
			Help:      "Last observed difference between chain and wall clocks",
		}),
		LatestBlockSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chaintime",
			Name:      "latest_block",
			Help:      "Highest block number seen on the head stream",
		}),
		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of the last completed reconciler pass",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordResolution records one resolution outcome.
func RecordResolution(step, status string, durationSeconds float64) {
	DefaultMetrics.ResolutionsTotal.WithLabelValues(step, status).Inc()
	DefaultMetrics.ResolutionDuration.Observe(durationSeconds)
}

// RecordCriticalFailure counts a resolution that exhausted every step.
func RecordCriticalFailure() {
	DefaultMetrics.CriticalFailures.Inc()
}

// RecordBidPlaced records a submitted bid and its end-to-end latency.
func RecordBidPlaced(durationSeconds float64) {
	DefaultMetrics.BidsPlaced.Inc()
	DefaultMetrics.BidLatency.Observe(durationSeconds)
}

// RecordBidRejected counts a rejected bid by reason.
func RecordBidRejected(reason string) {
	DefaultMetrics.BidsRejected.WithLabelValues(reason).Inc()
}

// RecordAuctionCreated counts an emergency creation.
func RecordAuctionCreated() {
	DefaultMetrics.AuctionsCreated.Inc()
}

// RecordOrphanAdopted counts a repaired orphan link.
func RecordOrphanAdopted() {
	DefaultMetrics.OrphansAdopted.Inc()
}

// UpdateBreakerState sets the breaker gauge for one dependency.
func UpdateBreakerState(dependency, state string) {
	var v float64
	switch state {
	case "OPEN":
		v = 1
	case "HALF_OPEN":
		v = 2
	}
	DefaultMetrics.BreakerState.WithLabelValues(dependency).Set(v)
}

// RecordRPCLatency records one ledger RPC call.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBError counts a database failure.
func RecordDBError(store, operation string) {
	DefaultMetrics.DBQueryErrors.WithLabelValues(store, operation).Inc()
}

// UpdateChainClock updates the skew gauge and highest block seen.
func UpdateChainClock(skewSeconds float64, blockNumber uint64) {
	DefaultMetrics.ChainClockSkew.Set(skewSeconds)
	if blockNumber > 0 {
		DefaultMetrics.LatestBlockSeen.Set(float64(blockNumber))
	}
}

// RecordReconcilePass marks a completed reconciler pass.
func RecordReconcilePass(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulReconcile.Set(float64(unixSeconds))
}
