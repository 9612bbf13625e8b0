package storage

import (
	"context"
	"time"

	"github.com/oraclewatch/xrpusd/internal/core/domain"
)

// PricePointRepository handles price series storage operations
type PricePointRepository interface {
	// Insert stores an observation. Returns false without error when a
	// point already exists for the same ledger index.
	Insert(ctx context.Context, p *domain.PricePoint) (bool, error)

	// ListBetween retrieves points in [from, to], ordered by observation time
	ListBetween(ctx context.Context, from, to time.Time) ([]*domain.PricePoint, error)

	// ListLedgerIndexes retrieves all stored ledger indexes in ascending order
	ListLedgerIndexes(ctx context.Context) ([]uint32, error)

	// Latest retrieves the most recent observation
	Latest(ctx context.Context) (*domain.PricePoint, error)

	// Count returns the number of stored points
	Count(ctx context.Context) (int64, error)
}

// GapRepository handles pending-gap storage operations
type GapRepository interface {
	// Add records a detected gap
	Add(ctx context.Context, gap *domain.Gap) error

	// ListPending retrieves gaps awaiting repair, oldest first
	ListPending(ctx context.Context) ([]*domain.Gap, error)

	// MarkRepaired marks a gap after a backfill attempt covered its range
	MarkRepaired(ctx context.Context, id string) error
}
