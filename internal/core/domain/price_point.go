package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observed USD/XRP price published by the oracle account.
type PricePoint struct {
	ID          int64
	Price       decimal.Decimal
	ObservedAt  time.Time
	LedgerIndex uint32

	// SourceSequence is the publishing transaction's sequence number.
	// Nil when the point was recovered by backfill instead of live polling.
	SourceSequence *uint32

	CreatedAt time.Time
}

// Backfilled reports whether this point was recovered from ledger history.
func (p *PricePoint) Backfilled() bool {
	return p.SourceSequence == nil
}
