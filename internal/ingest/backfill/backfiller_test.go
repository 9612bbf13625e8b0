package backfill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
	"github.com/oraclewatch/xrpusd/internal/infra/ledger"
)

const oracleAccount = "rLsn6Z3T8uCxbcd1oxoMDn3mKRgKkfCDY"

type mockClient struct {
	mu      sync.Mutex
	state   ledger.ServerState
	ledgers map[uint32]*ledger.LedgerData
	fetched []uint32
	onFetch func(c *mockClient, index uint32)
}

func (c *mockClient) ServerState(ctx context.Context) (ledger.ServerState, error) {
	return c.state, nil
}

func (c *mockClient) LedgerTransactions(
	ctx context.Context,
	index uint32,
) (*ledger.LedgerData, error) {
	c.mu.Lock()
	c.fetched = append(c.fetched, index)
	hook := c.onFetch
	data := c.ledgers[index]
	c.mu.Unlock()

	if hook != nil {
		hook(c, index)
	}
	if data != nil {
		return data, nil
	}
	return &ledger.LedgerData{Index: index, CloseTime: time.Unix(int64(index), 0)}, nil
}

func (c *mockClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fetched)
}

func oracleLedger(index uint32, value string) *ledger.LedgerData {
	return &ledger.LedgerData{
		Index:     index,
		CloseTime: time.Unix(int64(index)*10, 0),
		Transactions: []ledger.Transaction{
			{
				Hash:            "HASH",
				TransactionType: "TrustSet",
				Account:         oracleAccount,
				LedgerIndex:     index,
				LimitAmount:     &ledger.Amount{Currency: "USD", Issuer: "rIssuer", Value: value},
			},
		},
	}
}

type mockPriceRepo struct {
	mu       sync.Mutex
	indexes  []uint32
	byLedger map[uint32]*domain.PricePoint
}

func newMockPriceRepo(indexes ...uint32) *mockPriceRepo {
	return &mockPriceRepo{
		indexes:  indexes,
		byLedger: make(map[uint32]*domain.PricePoint),
	}
}

func (r *mockPriceRepo) Insert(ctx context.Context, p *domain.PricePoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byLedger[p.LedgerIndex]; ok {
		return false, nil
	}
	r.byLedger[p.LedgerIndex] = p
	return true, nil
}

func (r *mockPriceRepo) ListBetween(
	ctx context.Context,
	from, to time.Time,
) ([]*domain.PricePoint, error) {
	return nil, nil
}

func (r *mockPriceRepo) ListLedgerIndexes(ctx context.Context) ([]uint32, error) {
	return r.indexes, nil
}

func (r *mockPriceRepo) Latest(ctx context.Context) (*domain.PricePoint, error) {
	return nil, nil
}

func (r *mockPriceRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byLedger)), nil
}

func testConfig() Config {
	return Config{
		Account:         oracleAccount,
		Currency:        "USD",
		SampleSpacing:   10,
		Stride:          10,
		BootstrapWindow: 1000,
	}
}

func TestRun_SkipsGapsOutsideRetainedHistory(t *testing.T) {
	// Stored gaps below ledger 100 while the server only retains
	// [100, 1000]: nothing is fetchable, so nothing must be fetched.
	indexes := []uint32{1, 52}
	for i := uint32(100); i <= 1000; i += 10 {
		indexes = append(indexes, i)
	}
	repo := newMockPriceRepo(indexes...)
	client := &mockClient{state: ledger.ServerState{
		ValidatedLedger: 1000,
		OldestRetained:  100,
		NewestRetained:  1000,
	}}

	b := New(testConfig(), client, repo, nil)
	stats, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := client.fetchCount(); got != 0 {
		t.Errorf("expected 0 ledger fetches for pruned gaps, got %d", got)
	}
	if stats.RangesSkipped != 2 {
		t.Errorf("expected 2 skipped ranges, got %d", stats.RangesSkipped)
	}
}

func TestRun_BootstrapEmptyStore(t *testing.T) {
	// Empty store with retained history [900, 1000]: the bootstrap
	// window is clipped to the retained range and stride-walked.
	repo := newMockPriceRepo()
	client := &mockClient{
		state: ledger.ServerState{
			ValidatedLedger: 1000,
			OldestRetained:  900,
			NewestRetained:  1000,
		},
		ledgers: map[uint32]*ledger.LedgerData{},
	}
	for i := uint32(900); i <= 1000; i++ {
		client.ledgers[i] = oracleLedger(i, "2.35")
	}

	cfg := testConfig()
	cfg.Stride = 50
	b := New(cfg, client, repo, nil)

	stats, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []uint32{900, 950, 1000}
	client.mu.Lock()
	fetched := append([]uint32(nil), client.fetched...)
	client.mu.Unlock()
	if len(fetched) != len(want) {
		t.Fatalf("fetched ledgers %v, want %v", fetched, want)
	}
	for i := range want {
		if fetched[i] != want[i] {
			t.Fatalf("fetched ledgers %v, want %v", fetched, want)
		}
	}

	if stats.PointsAdded != 3 {
		t.Errorf("expected 3 points added, got %d", stats.PointsAdded)
	}
	for _, idx := range want {
		point := repo.byLedger[idx]
		if point == nil {
			t.Fatalf("expected a stored point for ledger %d", idx)
		}
		if !point.Price.Equal(decimal.RequireFromString("2.35")) {
			t.Errorf("ledger %d price = %s, want 2.35", idx, point.Price)
		}
		if point.SourceSequence != nil {
			t.Errorf("ledger %d: backfilled point must not carry a source sequence", idx)
		}
	}
}

func TestRun_StrideWalk(t *testing.T) {
	repo := newMockPriceRepo(100, 161)
	client := &mockClient{state: ledger.ServerState{
		ValidatedLedger: 161,
		OldestRetained:  1,
		NewestRetained:  200,
	}}

	b := New(testConfig(), client, repo, nil)
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []uint32{101, 111, 121, 131, 141, 151}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.fetched) != len(want) {
		t.Fatalf("fetched %v, want %v", client.fetched, want)
	}
	for i := range want {
		if client.fetched[i] != want[i] {
			t.Fatalf("fetched %v, want %v", client.fetched, want)
		}
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	b := New(testConfig(), &mockClient{}, newMockPriceRepo(), nil)

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	if _, err := b.Run(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStop_HaltsWalkBetweenLedgers(t *testing.T) {
	repo := newMockPriceRepo()
	client := &mockClient{state: ledger.ServerState{
		ValidatedLedger: 1000,
		OldestRetained:  900,
		NewestRetained:  1000,
	}}

	cfg := testConfig()
	cfg.Stride = 10
	b := New(cfg, client, repo, nil)
	client.onFetch = func(c *mockClient, index uint32) { b.Stop() }

	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := client.fetchCount(); got != 1 {
		t.Errorf("expected the walk to halt after 1 fetch, got %d", got)
	}
}

func TestRun_DuplicateInsertsAreSilent(t *testing.T) {
	repo := newMockPriceRepo()
	repo.byLedger[950] = &domain.PricePoint{LedgerIndex: 950}
	client := &mockClient{
		state: ledger.ServerState{
			ValidatedLedger: 1000,
			OldestRetained:  900,
			NewestRetained:  1000,
		},
		ledgers: map[uint32]*ledger.LedgerData{
			950: oracleLedger(950, "2.35"),
		},
	}

	cfg := testConfig()
	cfg.Stride = 50
	cfg.BootstrapWindow = 100
	b := New(cfg, client, repo, nil)

	stats, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.PointsAdded != 0 {
		t.Errorf("expected 0 points added over duplicates, got %d", stats.PointsAdded)
	}
}
