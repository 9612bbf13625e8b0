package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
)

// Queue is the rescan queue surface the worker consumes. Ranges are
// operator- or gapscan-submitted ledger intervals waiting for repair.
type Queue interface {
	PopRange(ctx context.Context) (start, end uint32, found bool, err error)
	PushRange(ctx context.Context, start, end uint32) error
	AcquireLock(ctx context.Context, start, end uint32, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, start, end uint32) error
	GetProgress(ctx context.Context, start, end uint32) (uint32, error)
	SetProgress(ctx context.Context, start, end, current uint32, ttl time.Duration) error
	ClearProgress(ctx context.Context, start, end uint32) error
}

// WorkerConfig configures the rescan worker.
type WorkerConfig struct {
	EmptySleep  time.Duration // wait when the queue is empty
	LockTTL     time.Duration
	ProgressTTL time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.EmptySleep == 0 {
		c.EmptySleep = 30 * time.Second
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.ProgressTTL == 0 {
		c.ProgressTTL = time.Hour
	}
}

// Worker drains the rescan queue, walking each popped range through the
// backfiller. Progress survives restarts via the queue's progress keys;
// locks keep concurrent instances off the same range.
type Worker struct {
	cfg        WorkerConfig
	queue      Queue
	backfiller *Backfiller
	log        *slog.Logger
}

// NewWorker creates a rescan worker.
func NewWorker(cfg WorkerConfig, queue Queue, backfiller *Backfiller) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:        cfg,
		queue:      queue,
		backfiller: backfiller,
		log:        slog.Default().With("component", "rescan"),
	}
}

// Run drains the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Rescan worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start, end, found, err := w.queue.PopRange(ctx)
		if err != nil {
			w.log.Error("Failed to pop rescan range", "error", err)
			found = false
		}
		if !found {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.EmptySleep):
			}
			continue
		}

		if err := w.processRange(ctx, start, end); err != nil {
			w.log.Error("Rescan range failed, requeueing",
				"start", start, "end", end, "error", err)
			if qerr := w.queue.PushRange(ctx, start, end); qerr != nil {
				w.log.Error("Failed to requeue range",
					"start", start, "end", end, "error", qerr)
			}
		}
	}
}

// processRange walks one queued range, resuming from recorded progress
// and clipping to the server's retained history.
func (w *Worker) processRange(ctx context.Context, start, end uint32) error {
	locked, err := w.queue.AcquireLock(ctx, start, end, w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		w.log.Info("Range locked by another instance, skipping",
			"start", start, "end", end)
		return nil
	}
	defer func() {
		if err := w.queue.ReleaseLock(ctx, start, end); err != nil {
			w.log.Warn("Failed to release range lock",
				"start", start, "end", end, "error", err)
		}
	}()

	resume, err := w.queue.GetProgress(ctx, start, end)
	if err != nil {
		w.log.Warn("Failed to read range progress, starting over",
			"start", start, "end", end, "error", err)
		resume = start
	}
	if resume > start {
		w.log.Info("Resuming range", "start", start, "end", end, "resume", resume)
	}

	state, err := w.backfiller.client.ServerState(ctx)
	if err != nil {
		return fmt.Errorf("fetch server state: %w", err)
	}
	if !state.HasHistory() {
		w.log.Warn("Server reports no retained history, dropping range",
			"start", start, "end", end)
		return w.queue.ClearProgress(ctx, start, end)
	}

	newest := state.ValidatedLedger
	if newest == 0 || newest > state.NewestRetained {
		newest = state.NewestRetained
	}

	r := domain.LedgerRange{Start: resume, End: end}
	clipped := r.Clip(state.OldestRetained, newest)
	if clipped.Empty() {
		w.log.Info("Queued range outside retained history, dropping",
			"start", start, "end", end)
		return w.queue.ClearProgress(ctx, start, end)
	}

	onSample := func(index uint32) {
		if err := w.queue.SetProgress(ctx, start, end, index, w.cfg.ProgressTTL); err != nil {
			w.log.Warn("Failed to record range progress", "at", index, "error", err)
		}
	}
	if err := w.backfiller.fillRange(ctx, clipped, onSample); err != nil {
		return err
	}

	w.log.Info("Rescan range complete", "start", start, "end", end)
	return w.queue.ClearProgress(ctx, start, end)
}
