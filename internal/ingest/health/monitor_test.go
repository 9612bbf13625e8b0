package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
	"github.com/oraclewatch/xrpusd/internal/ingest/poller"
)

type stubDB struct {
	err error
}

func (s *stubDB) Health(ctx context.Context) error { return s.err }

type stubLedger struct {
	connected bool
	server    string
}

func (s *stubLedger) Connected() bool      { return s.connected }
func (s *stubLedger) ActiveServer() string { return s.server }

type stubPoller struct {
	status poller.Status
}

func (s *stubPoller) Status() poller.Status { return s.status }

type stubPriceRepo struct {
	latest *domain.PricePoint
	count  int64
}

func (s *stubPriceRepo) Insert(ctx context.Context, p *domain.PricePoint) (bool, error) {
	return true, nil
}

func (s *stubPriceRepo) ListBetween(
	ctx context.Context,
	from, to time.Time,
) ([]*domain.PricePoint, error) {
	return nil, nil
}

func (s *stubPriceRepo) ListLedgerIndexes(ctx context.Context) ([]uint32, error) {
	return nil, nil
}

func (s *stubPriceRepo) Latest(ctx context.Context) (*domain.PricePoint, error) {
	return s.latest, nil
}

func (s *stubPriceRepo) Count(ctx context.Context) (int64, error) { return s.count, nil }

type stubGapRepo struct {
	pending []*domain.Gap
}

func (s *stubGapRepo) Add(ctx context.Context, gap *domain.Gap) error { return nil }

func (s *stubGapRepo) ListPending(ctx context.Context) ([]*domain.Gap, error) {
	return s.pending, nil
}

func (s *stubGapRepo) MarkRepaired(ctx context.Context, id string) error { return nil }

func newTestMonitor(
	db *stubDB,
	ledger *stubLedger,
	p *stubPoller,
	prices *stubPriceRepo,
	now time.Time,
) *Monitor {
	m := NewMonitor(db, ledger, p, nil, prices, &stubGapRepo{}, 90*time.Second)
	m.now = func() time.Time { return now }
	return m
}

func TestCheck_Healthy(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(
		&stubDB{},
		&stubLedger{connected: true, server: "s1"},
		&stubPoller{status: poller.Status{State: poller.StatePolling}},
		&stubPriceRepo{
			count:  10,
			latest: &domain.PricePoint{ObservedAt: now.Add(-30 * time.Second)},
		},
		now,
	)

	report := m.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.ActiveServer != "s1" {
		t.Errorf("expected active server s1, got %s", report.ActiveServer)
	}
}

func TestCheck_CriticalWhenDatabaseDown(t *testing.T) {
	m := newTestMonitor(
		&stubDB{err: errors.New("connection refused")},
		&stubLedger{connected: true},
		&stubPoller{},
		&stubPriceRepo{},
		time.Now(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("expected critical, got %s", report.Status)
	}
	if report.DatabaseOK {
		t.Error("expected database_ok false")
	}
}

func TestCheck_DegradedWhenStale(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(
		&stubDB{},
		&stubLedger{connected: true},
		&stubPoller{status: poller.Status{State: poller.StatePolling}},
		&stubPriceRepo{
			count:  10,
			latest: &domain.PricePoint{ObservedAt: now.Add(-10 * time.Minute)},
		},
		now,
	)

	report := m.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("expected degraded on stale feed, got %s", report.Status)
	}
}

func TestCheck_DegradedWhenDisconnectedWhilePolling(t *testing.T) {
	m := newTestMonitor(
		&stubDB{},
		&stubLedger{connected: false},
		&stubPoller{status: poller.Status{State: poller.StatePolling}},
		&stubPriceRepo{},
		time.Now(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("expected degraded while disconnected, got %s", report.Status)
	}
}

func TestCheck_RateLimited(t *testing.T) {
	db := &stubDB{}
	now := time.Now()
	m := newTestMonitor(db, &stubLedger{connected: true}, &stubPoller{}, &stubPriceRepo{}, now)

	first := m.Check(context.Background())

	// A failure inside the rate-limit window is not observed.
	db.err = errors.New("connection refused")
	second := m.Check(context.Background())
	if second.Status != first.Status {
		t.Errorf("expected cached report within the window, got %s", second.Status)
	}

	m.now = func() time.Time { return now.Add(time.Minute) }
	third := m.Check(context.Background())
	if third.Status != StatusCritical {
		t.Errorf("expected fresh check after the window, got %s", third.Status)
	}
}
