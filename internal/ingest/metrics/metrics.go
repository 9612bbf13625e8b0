package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollTicksTotal tracks poller ticks by outcome (ok, error, skipped)
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclewatch_poll_ticks_total",
			Help: "Total number of poll ticks",
		},
		[]string{"outcome"},
	)

	// PricePointsInserted tracks stored observations by source (poll, backfill)
	PricePointsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclewatch_price_points_inserted_total",
			Help: "Total number of price points stored",
		},
		[]string{"source"},
	)

	// DuplicateInsertsTotal tracks inserts skipped by the ledger-index constraint
	DuplicateInsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oraclewatch_duplicate_inserts_total",
			Help: "Total number of inserts skipped due to an existing ledger index",
		},
	)

	// RPCRequestsTotal tracks rippled requests per command and server
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclewatch_rpc_requests_total",
			Help: "Total number of rippled RPC requests",
		},
		[]string{"command", "server"},
	)

	// RPCFailoversTotal tracks server rotations caused by connection loss
	RPCFailoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oraclewatch_rpc_failovers_total",
			Help: "Total number of server rotations after connection loss",
		},
	)

	// GapsDetected tracks gaps found by the scan pass
	GapsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oraclewatch_gaps_detected_total",
			Help: "Total number of time gaps detected in the stored series",
		},
	)

	// BackfillLedgersSampled tracks historical ledgers inspected
	BackfillLedgersSampled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oraclewatch_backfill_ledgers_sampled_total",
			Help: "Total number of historical ledgers fetched by backfill",
		},
	)

	// LastObservedPrice exposes the most recent applied price
	LastObservedPrice = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oraclewatch_last_observed_price",
			Help: "Most recent USD/XRP price applied by the poller",
		},
	)

	// LastLedgerIndex exposes the ledger index of the most recent observation
	LastLedgerIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oraclewatch_last_ledger_index",
			Help: "Ledger index of the most recent observation",
		},
	)

	// DBConnectionPoolUsage exposes connection pool utilization percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oraclewatch_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
