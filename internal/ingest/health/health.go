// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/oraclewatch/xrpusd/internal/ingest/backfill"
	"github.com/oraclewatch/xrpusd/internal/ingest/poller"
)

// SystemStatus represents the overall health state of the service.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report contains the full health report.
type Report struct {
	Status       SystemStatus   `json:"status"`
	DatabaseOK   bool           `json:"database_ok"`
	Connected    bool           `json:"ledger_connected"`
	ActiveServer string         `json:"active_server,omitempty"`
	Poller       poller.Status  `json:"poller"`
	LastPriceAge time.Duration  `json:"last_price_age"`
	StoredPoints int64          `json:"stored_points"`
	PendingGaps  int            `json:"pending_gaps"`
	Backfill     backfill.Stats `json:"backfill"`
	CheckedAt    time.Time      `json:"checked_at"`
}
