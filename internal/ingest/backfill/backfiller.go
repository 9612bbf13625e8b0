// Package backfill recovers missed price observations by sampling
// historical ledgers directly.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
	"github.com/oraclewatch/xrpusd/internal/infra/ledger"
	"github.com/oraclewatch/xrpusd/internal/infra/storage"
	"github.com/oraclewatch/xrpusd/internal/ingest/metrics"
)

// ErrAlreadyRunning is returned when Run is called while a pass is active.
var ErrAlreadyRunning = errors.New("backfill already running")

// Client is the ledger surface the backfiller consumes.
type Client interface {
	ServerState(ctx context.Context) (ledger.ServerState, error)
	LedgerTransactions(ctx context.Context, index uint32) (*ledger.LedgerData, error)
}

// Config configures a backfill pass.
type Config struct {
	Account         string
	Currency        string
	SampleSpacing   uint32        // index spacing beyond which stored points imply a gap
	Stride          uint32        // sample every Stride-th ledger within a gap
	BootstrapWindow uint32        // trailing window walked when the store is empty
	LedgerDelay     time.Duration // pause between ledger fetches
}

// Stats is a snapshot of the current or most recent pass.
type Stats struct {
	Active         bool          `json:"active"`
	PointsAdded    int           `json:"points_added"`
	LedgersSampled int           `json:"ledgers_sampled"`
	RangesSkipped  int           `json:"ranges_skipped"`
	StartedAt      time.Time     `json:"started_at"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Backfiller walks ledger-index gaps in the stored series and inserts
// the prices it finds. Backfilled points carry no source sequence,
// which distinguishes them from live observations.
type Backfiller struct {
	cfg    Config
	client Client
	prices storage.PricePointRepository
	gaps   storage.GapRepository
	log    *slog.Logger

	mu      sync.Mutex
	running bool
	halt    bool
	stats   Stats
}

// New creates a backfiller. gaps may be nil when no gap bookkeeping is
// wanted.
func New(
	cfg Config,
	client Client,
	prices storage.PricePointRepository,
	gaps storage.GapRepository,
) *Backfiller {
	return &Backfiller{
		cfg:    cfg,
		client: client,
		prices: prices,
		gaps:   gaps,
		log:    slog.Default().With("component", "backfill"),
	}
}

// Run executes one backfill pass: compute gaps from the stored ledger
// indexes, clip each to the server's retained history, and stride-walk
// the survivors. Returns ErrAlreadyRunning when a pass is active.
func (b *Backfiller) Run(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return Stats{}, ErrAlreadyRunning
	}
	b.running = true
	b.halt = false
	started := time.Now()
	b.stats = Stats{Active: true, StartedAt: started}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.stats.Active = false
		b.stats.Elapsed = time.Since(started)
		b.mu.Unlock()
	}()

	state, err := b.client.ServerState(ctx)
	if err != nil {
		return b.Status(), fmt.Errorf("fetch server state: %w", err)
	}
	if !state.HasHistory() {
		b.log.Warn("Server reports no retained history, nothing to backfill")
		return b.Status(), nil
	}

	current := state.ValidatedLedger
	if current == 0 || current > state.NewestRetained {
		current = state.NewestRetained
	}

	ranges, err := b.computeGaps(ctx, current)
	if err != nil {
		return b.Status(), err
	}
	b.log.Info("Backfill pass starting",
		"ranges", len(ranges),
		"retained_oldest", state.OldestRetained,
		"retained_newest", current)

	for _, r := range ranges {
		if b.stopped() || ctx.Err() != nil {
			b.log.Info("Backfill pass stopped early")
			return b.Status(), ctx.Err()
		}

		clipped := r.Clip(state.OldestRetained, current)
		if clipped.Empty() {
			// The server pruned past this range; it cannot be repaired here.
			b.log.Info("Gap outside retained history, skipping",
				"start", r.Start, "end", r.End)
			b.mu.Lock()
			b.stats.RangesSkipped++
			b.mu.Unlock()
			continue
		}

		if err := b.fillRange(ctx, clipped, nil); err != nil {
			return b.Status(), err
		}
	}

	if b.gaps != nil && !b.stopped() {
		b.settleGaps(ctx, started)
	}

	stats := b.Status()
	b.log.Info("Backfill pass complete",
		"points_added", stats.PointsAdded,
		"ledgers_sampled", stats.LedgersSampled,
		"ranges_skipped", stats.RangesSkipped)
	return stats, nil
}

// Stop requests a cooperative halt. The walk stops at the next ledger
// boundary.
func (b *Backfiller) Stop() {
	b.mu.Lock()
	b.halt = true
	b.mu.Unlock()
}

// Status returns a snapshot of the current or most recent pass.
func (b *Backfiller) Status() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	if s.Active {
		s.Elapsed = time.Since(s.StartedAt)
	}
	return s
}

func (b *Backfiller) stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halt
}

// computeGaps derives ledger-index ranges to walk. An empty store yields
// a single bootstrap window ending at the current ledger; otherwise any
// spacing wider than SampleSpacing between consecutive stored indexes
// becomes a range, as does the interval from the newest stored index to
// the current ledger.
func (b *Backfiller) computeGaps(ctx context.Context, current uint32) ([]domain.LedgerRange, error) {
	indexes, err := b.prices.ListLedgerIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored ledger indexes: %w", err)
	}

	if len(indexes) == 0 {
		start := uint32(1)
		if current > b.cfg.BootstrapWindow {
			start = current - b.cfg.BootstrapWindow
		}
		b.log.Info("Empty price series, bootstrapping",
			"start", start, "end", current)
		return []domain.LedgerRange{{Start: start, End: current}}, nil
	}

	var ranges []domain.LedgerRange
	for i := 1; i < len(indexes); i++ {
		if indexes[i]-indexes[i-1] > b.cfg.SampleSpacing {
			ranges = append(ranges, domain.LedgerRange{
				Start: indexes[i-1] + 1,
				End:   indexes[i] - 1,
			})
		}
	}

	newest := indexes[len(indexes)-1]
	if current > newest && current-newest > b.cfg.SampleSpacing {
		ranges = append(ranges, domain.LedgerRange{Start: newest + 1, End: current})
	}
	return ranges, nil
}

// fillRange stride-walks one clipped range. Per-ledger failures are
// logged and skipped so one bad ledger does not abort the pass. onSample
// is invoked after each ledger when non-nil.
func (b *Backfiller) fillRange(
	ctx context.Context,
	r domain.LedgerRange,
	onSample func(index uint32),
) error {
	stride := b.cfg.Stride
	if stride == 0 {
		stride = 1
	}

	for idx := r.Start; idx <= r.End; idx += stride {
		if b.stopped() {
			b.log.Info("Backfill halted mid-range", "at", idx, "end", r.End)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := b.client.LedgerTransactions(ctx, idx)
		b.mu.Lock()
		b.stats.LedgersSampled++
		b.mu.Unlock()
		metrics.BackfillLedgersSampled.Inc()

		if err != nil {
			var rpcErr *ledger.RPCError
			if errors.As(err, &rpcErr) {
				// Typically lgrNotFound for ledgers pruned since server_info.
				b.log.Debug("Ledger unavailable", "index", idx, "error", rpcErr)
			} else {
				b.log.Warn("Failed to fetch ledger", "index", idx, "error", err)
			}
		} else {
			b.storeFromLedger(ctx, data)
		}

		if onSample != nil {
			onSample(idx)
		}
		if b.cfg.LedgerDelay > 0 && idx+stride <= r.End {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.LedgerDelay):
			}
		}
	}
	return nil
}

// storeFromLedger inserts the qualifying oracle transaction of one
// ledger, if any. Duplicate inserts are expected when ranges overlap
// stored points and are ignored.
func (b *Backfiller) storeFromLedger(ctx context.Context, data *ledger.LedgerData) {
	for i := range data.Transactions {
		price, ok := data.Transactions[i].OraclePrice(b.cfg.Account, b.cfg.Currency)
		if !ok {
			continue
		}

		point := &domain.PricePoint{
			Price:       price,
			ObservedAt:  data.CloseTime,
			LedgerIndex: data.Index,
		}
		inserted, err := b.prices.Insert(ctx, point)
		if err != nil {
			b.log.Error("Failed to store backfilled point",
				"ledger", data.Index, "price", price, "error", err)
			return
		}
		if !inserted {
			metrics.DuplicateInsertsTotal.Inc()
			return
		}

		b.mu.Lock()
		b.stats.PointsAdded++
		b.mu.Unlock()
		metrics.PricePointsInserted.WithLabelValues("backfill").Inc()
		b.log.Info("Backfilled price point",
			"ledger", data.Index, "price", price, "observed_at", data.CloseTime)
		return
	}
}

// settleGaps marks pending gaps that predate this pass as repaired. The
// walk covered every index gap derivable from the store, so older time
// gaps have been attempted whether or not history still reached them.
func (b *Backfiller) settleGaps(ctx context.Context, passStart time.Time) {
	pending, err := b.gaps.ListPending(ctx)
	if err != nil {
		b.log.Warn("Failed to list pending gaps", "error", err)
		return
	}

	settled := 0
	for _, gap := range pending {
		if gap.EndTime.After(passStart) {
			continue
		}
		if err := b.gaps.MarkRepaired(ctx, gap.ID); err != nil {
			b.log.Warn("Failed to mark gap repaired", "gap", gap.ID, "error", err)
			continue
		}
		settled++
	}
	if settled > 0 {
		b.log.Info("Settled pending gaps", "count", settled)
	}
}
