package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
	"github.com/oraclewatch/xrpusd/internal/infra/ledger"
	"github.com/oraclewatch/xrpusd/internal/infra/storage"
	"github.com/oraclewatch/xrpusd/internal/ingest/metrics"
)

// ErrAlreadyRunning is returned when Start is called on a running poller.
var ErrAlreadyRunning = errors.New("poller already running")

// State is the poller lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting" // waiting for the ledger connection
	StatePolling  State = "polling"
)

// Client is the ledger surface the poller consumes.
type Client interface {
	Connect(ctx context.Context) error
	AccountTx(ctx context.Context, account string, limit int) ([]ledger.Transaction, error)
}

// Config configures the oracle price poller.
type Config struct {
	Account      string
	Currency     string
	PollInterval time.Duration
	TxFetchLimit int
}

// Poller converts the oracle account's transaction stream into
// deduplicated price point writes.
type Poller struct {
	cfg    Config
	client Client
	prices storage.PricePointRepository
	log    *slog.Logger

	mu         sync.Mutex
	state      State
	ticking    bool
	cancel     context.CancelFunc
	lastTxHash string
	lastPrice  *decimal.Decimal
	lastLedger uint32
	lastPollAt time.Time

	subMu sync.Mutex
	subs  map[int]chan domain.PriceUpdate
	subID int
}

// Status is a snapshot of the poller for health reporting.
type Status struct {
	State      State           `json:"state"`
	LastPrice  decimal.Decimal `json:"last_price"`
	LastLedger uint32          `json:"last_ledger"`
	LastTxHash string          `json:"last_tx_hash"`
	LastPollAt time.Time       `json:"last_poll_at"`
}

// New creates a poller.
func New(cfg Config, client Client, prices storage.PricePointRepository) *Poller {
	return &Poller{
		cfg:    cfg,
		client: client,
		prices: prices,
		log:    slog.Default().With("component", "poller"),
		state:  StateStopped,
		subs:   make(map[int]chan domain.PriceUpdate),
	}
}

// Start launches the polling loop. Returns ErrAlreadyRunning when the
// poller is not stopped.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.state = StateStarting
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx)
	return nil
}

// Stop requests the polling loop to halt.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.state = StateStopped
}

// Status returns a snapshot for health reporting.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		State:      p.state,
		LastLedger: p.lastLedger,
		LastTxHash: p.lastTxHash,
		LastPollAt: p.lastPollAt,
	}
	if p.lastPrice != nil {
		s.LastPrice = *p.lastPrice
	}
	return s
}

func (p *Poller) run(ctx context.Context) {
	// Wait for the ledger connection before entering steady state.
	for {
		if err := p.client.Connect(ctx); err == nil {
			break
		} else {
			p.log.Warn("Ledger connection not ready, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}

	// Stop may have landed while the connection was being established;
	// entering steady state then would leave a phantom polling state.
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.state = StatePolling
	p.mu.Unlock()
	p.log.Info("Poller entering steady state", "interval", p.cfg.PollInterval)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick fetches the oracle's recent transactions and applies unseen ones.
// Errors are logged and swallowed; the next tick retries independently.
func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.ticking {
		p.mu.Unlock()
		p.log.Debug("Tick already in progress, skipping")
		metrics.PollTicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	p.ticking = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.ticking = false
		p.mu.Unlock()
	}()

	txs, err := p.client.AccountTx(ctx, p.cfg.Account, p.cfg.TxFetchLimit)
	if err != nil {
		p.log.Error("Failed to fetch oracle transactions", "error", err)
		metrics.PollTicksTotal.WithLabelValues("error").Inc()
		return
	}

	fresh := p.unseen(txs)
	for i := range fresh {
		p.applyTransaction(ctx, &fresh[i])
	}

	p.mu.Lock()
	if len(fresh) > 0 {
		p.lastTxHash = fresh[len(fresh)-1].Hash
	}
	p.lastPollAt = time.Now()
	p.mu.Unlock()

	metrics.PollTicksTotal.WithLabelValues("ok").Inc()
}

// unseen returns the transactions newer than the dedup cursor, oldest
// first. The input is newest-first as delivered by account_tx; the single
// most-recently-seen hash is a sufficient cursor because the oracle
// publishes slower than the poll interval.
func (p *Poller) unseen(txs []ledger.Transaction) []ledger.Transaction {
	p.mu.Lock()
	cursor := p.lastTxHash
	p.mu.Unlock()

	var fresh []ledger.Transaction
	for _, tx := range txs {
		if cursor != "" && tx.Hash == cursor {
			break
		}
		fresh = append(fresh, tx)
	}

	// Reverse to process oldest-to-newest.
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh
}

// applyTransaction stores a qualifying transaction's price if it differs
// from the last applied one.
func (p *Poller) applyTransaction(ctx context.Context, tx *ledger.Transaction) {
	price, ok := p.extractPrice(tx)
	if !ok {
		return
	}

	p.mu.Lock()
	unchanged := p.lastPrice != nil && p.lastPrice.Equal(price)
	p.mu.Unlock()
	if unchanged {
		p.log.Debug("Price unchanged, skipping", "price", price, "tx", tx.Hash)
		return
	}

	seq := tx.Sequence
	point := &domain.PricePoint{
		Price:          price,
		ObservedAt:     ledger.RippleTime(tx.Date),
		LedgerIndex:    tx.LedgerIndex,
		SourceSequence: &seq,
	}

	inserted, err := p.prices.Insert(ctx, point)
	if err != nil {
		p.log.Error("Failed to store price point",
			"ledger", tx.LedgerIndex, "price", price, "error", err)
		return
	}
	if !inserted {
		p.log.Debug("Price point already stored", "ledger", tx.LedgerIndex)
		metrics.DuplicateInsertsTotal.Inc()
	} else {
		metrics.PricePointsInserted.WithLabelValues("poll").Inc()
	}

	p.mu.Lock()
	p.lastPrice = &price
	p.lastLedger = tx.LedgerIndex
	p.mu.Unlock()

	metrics.LastObservedPrice.Set(price.InexactFloat64())
	metrics.LastLedgerIndex.Set(float64(tx.LedgerIndex))

	p.publish(domain.PriceUpdate{
		Price:       price,
		ObservedAt:  point.ObservedAt,
		LedgerIndex: tx.LedgerIndex,
		TxHash:      tx.Hash,
	})
	p.log.Info("New price observed",
		"price", price, "ledger", tx.LedgerIndex, "tx", tx.Hash)
}

// extractPrice returns the published price carried by a qualifying
// transaction.
func (p *Poller) extractPrice(tx *ledger.Transaction) (decimal.Decimal, bool) {
	return tx.OraclePrice(p.cfg.Account, p.cfg.Currency)
}
