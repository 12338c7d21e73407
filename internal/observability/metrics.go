package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the intent engine.
type Metrics struct {
	// --- Registry ---
	IntentsSubmitted *prometheus.CounterVec
	IntentsRejected  *prometheus.CounterVec
	IntentsFinalized *prometheus.CounterVec
	BondEscrowed     prometheus.Gauge

	// --- Settlement ---
	SettlementsCompleted *prometheus.CounterVec
	SettlementFailures   *prometheus.CounterVec
	SettlementDuration   prometheus.Histogram
	SettlementProfit     prometheus.Counter

	// --- Insurance ---
	InsuranceBalance  prometheus.Gauge
	InsuranceCredits  *prometheus.CounterVec
	InsuranceDebits   prometheus.Counter

	// --- Feeds ---
	FeedUpdates *prometheus.CounterVec
	ChainHeight prometheus.Gauge

	// --- Persistence ---
	PersistRowsWritten *prometheus.CounterVec
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		IntentsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_intents_submitted_total",
			Help: "Intents accepted by the registry",
		}, []string{"venue"}),

		IntentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_intents_rejected_total",
			Help: "Intent submissions rejected (validation, duplicate)",
		}, []string{"reason"}),

		IntentsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_intents_finalized_total",
			Help: "Intents reaching a terminal state",
		}, []string{"outcome"}),

		BondEscrowed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_bond_escrowed",
			Help: "Native units currently held in bond escrow",
		}),

		SettlementsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_settlements_completed_total",
			Help: "Successful liquidation settlements",
		}, []string{"venue"}),

		SettlementFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_settlement_failures_total",
			Help: "Settlement attempts aborted, by precondition",
		}, []string{"reason"}),

		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_settlement_duration_seconds",
			Help:    "End-to-end execute_liquidation duration",
			Buckets: latencyBuckets,
		}),

		SettlementProfit: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_settlement_profit_quote_total",
			Help: "Cumulative gross settlement profit in quote units",
		}),

		InsuranceBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_insurance_balance",
			Help: "Current insurance ledger balance",
		}),

		InsuranceCredits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_insurance_credits_total",
			Help: "Insurance ledger credits by source",
		}, []string{"source"}),

		InsuranceDebits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_insurance_withdrawals_total",
			Help: "Insurance ledger withdrawal amount",
		}),

		FeedUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_feed_updates_total",
			Help: "Oracle feed messages applied",
		}, []string{"feed"}),

		ChainHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_chain_height",
			Help: "Last observed chain height",
		}),

		PersistRowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_persist_rows_written_total",
			Help: "Rows written by the persistence worker",
		}, []string{"table"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: latencyBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_persist_errors_total",
			Help: "Persistence worker errors",
		}, []string{"table"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: latencyBuckets,
		}, []string{"route"}),
	}
}
