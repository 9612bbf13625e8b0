// Package gapscan finds time discontinuities in the stored price series.
package gapscan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
	"github.com/oraclewatch/xrpusd/internal/infra/storage"
	"github.com/oraclewatch/xrpusd/internal/ingest/metrics"
)

// RangeQueue receives ledger-range repair hints for gaps whose surrounding
// observations carry ledger indexes.
type RangeQueue interface {
	PushRange(ctx context.Context, start, end uint32) error
}

// Config configures the detector.
type Config struct {
	Threshold  time.Duration // spacing beyond which a gap is recorded
	Floor      time.Time     // earliest time considered
	MaxPerScan int           // bound on gaps recorded per scan
}

// Detector identifies time-based discontinuities in the stored series.
// Its output is advisory input to backfill and operational visibility,
// not an execution plan.
type Detector struct {
	cfg    Config
	prices storage.PricePointRepository
	gaps   storage.GapRepository
	queue  RangeQueue // optional
	log    *slog.Logger
	now    func() time.Time
}

// New creates a detector. queue may be nil when no rescan queue is
// configured.
func New(
	cfg Config,
	prices storage.PricePointRepository,
	gaps storage.GapRepository,
	queue RangeQueue,
) *Detector {
	return &Detector{
		cfg:    cfg,
		prices: prices,
		gaps:   gaps,
		queue:  queue,
		log:    slog.Default().With("component", "gapscan"),
		now:    time.Now,
	}
}

// Scan walks the stored series from the floor to now and records every
// spacing wider than the threshold, including the trailing interval
// between the last observation and now. Triggered on demand.
func (d *Detector) Scan(ctx context.Context) ([]*domain.Gap, error) {
	now := d.now()

	points, err := d.prices.ListBetween(ctx, d.cfg.Floor, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load price series: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	var found []*domain.Gap
	record := func(prev, next *domain.PricePoint, end time.Time) error {
		// Future boundaries mean clock skew upstream; don't record them.
		if end.After(now) || prev.ObservedAt.After(now) {
			return nil
		}

		gap := &domain.Gap{
			ID:        uuid.New().String(),
			StartTime: prev.ObservedAt,
			EndTime:   end,
			Status:    domain.GapStatusPending,
		}
		if err := d.gaps.Add(ctx, gap); err != nil {
			return err
		}
		found = append(found, gap)
		metrics.GapsDetected.Inc()

		if d.queue != nil && next != nil && prev.LedgerIndex > 0 && next.LedgerIndex > 0 {
			if qerr := d.queue.PushRange(ctx, prev.LedgerIndex, next.LedgerIndex); qerr != nil {
				d.log.Warn("Failed to queue repair range",
					"start", prev.LedgerIndex, "end", next.LedgerIndex, "error", qerr)
			}
		}
		return nil
	}

	for i := 1; i < len(points); i++ {
		if len(found) >= d.cfg.MaxPerScan {
			d.log.Warn("Gap cap reached, truncating scan", "cap", d.cfg.MaxPerScan)
			return found, nil
		}
		prev, next := points[i-1], points[i]
		if next.ObservedAt.Sub(prev.ObservedAt) > d.cfg.Threshold {
			if err := record(prev, next, next.ObservedAt); err != nil {
				return found, fmt.Errorf("failed to record gap: %w", err)
			}
		}
	}

	// Trailing interval between the last observation and now.
	last := points[len(points)-1]
	if len(found) < d.cfg.MaxPerScan && now.Sub(last.ObservedAt) > d.cfg.Threshold {
		if err := record(last, nil, now); err != nil {
			return found, fmt.Errorf("failed to record trailing gap: %w", err)
		}
	}

	if len(found) > 0 {
		d.log.Info("Gap scan complete", "gaps", len(found), "points", len(points))
	}
	return found, nil
}
