package health

import (
	"context"
	"sync"
	"time"

	"github.com/oraclewatch/xrpusd/internal/infra/storage"
	"github.com/oraclewatch/xrpusd/internal/ingest/backfill"
	"github.com/oraclewatch/xrpusd/internal/ingest/poller"
)

// Pinger reports whether the database responds.
type Pinger interface {
	Health(ctx context.Context) error
}

// LedgerStatus exposes the connection state of the ledger client.
type LedgerStatus interface {
	Connected() bool
	ActiveServer() string
}

// PollerStatus exposes the poller's last-observation snapshot.
type PollerStatus interface {
	Status() poller.Status
}

// BackfillStatus exposes the backfiller's pass snapshot.
type BackfillStatus interface {
	Status() backfill.Stats
}

// Monitor aggregates health status from the service's components.
type Monitor struct {
	db        Pinger
	ledger    LedgerStatus
	poller    PollerStatus
	backfill  BackfillStatus
	prices    storage.PricePointRepository
	gaps      storage.GapRepository
	staleness time.Duration // observation age past which the feed is degraded

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
	now        func() time.Time
}

// NewMonitor creates a health monitor. staleness is typically three poll
// intervals: two missed polls in a row mean the feed is falling behind.
func NewMonitor(
	db Pinger,
	ledger LedgerStatus,
	p PollerStatus,
	b BackfillStatus,
	prices storage.PricePointRepository,
	gaps storage.GapRepository,
	staleness time.Duration,
) *Monitor {
	return &Monitor{
		db:        db,
		ledger:    ledger,
		poller:    p,
		backfill:  b,
		prices:    prices,
		gaps:      gaps,
		staleness: staleness,
		now:       time.Now,
	}
}

// Check builds a health report. Checks are rate limited to once per 10s
// to keep probe traffic off the database.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < 10*time.Second {
		return *m.lastReport
	}

	report := Report{
		Status:    StatusHealthy,
		CheckedAt: now,
	}

	if err := m.db.Health(ctx); err != nil {
		report.Status = StatusCritical
	} else {
		report.DatabaseOK = true
	}

	if m.ledger != nil {
		report.Connected = m.ledger.Connected()
		report.ActiveServer = m.ledger.ActiveServer()
	}
	if m.poller != nil {
		report.Poller = m.poller.Status()
	}
	if m.backfill != nil {
		report.Backfill = m.backfill.Status()
	}

	if report.DatabaseOK {
		if count, err := m.prices.Count(ctx); err == nil {
			report.StoredPoints = count
		}
		if pending, err := m.gaps.ListPending(ctx); err == nil {
			report.PendingGaps = len(pending)
		}
		if latest, err := m.prices.Latest(ctx); err == nil && latest != nil {
			report.LastPriceAge = now.Sub(latest.ObservedAt)
		}
	}

	if report.Status != StatusCritical {
		switch {
		case !report.Connected && report.Poller.State == poller.StatePolling:
			report.Status = StatusDegraded
		case report.LastPriceAge > m.staleness && report.StoredPoints > 0:
			report.Status = StatusDegraded
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}
