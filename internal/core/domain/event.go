package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceUpdate is published when the poller applies a new observed price.
type PriceUpdate struct {
	Price       decimal.Decimal
	ObservedAt  time.Time
	LedgerIndex uint32
	TxHash      string
}
