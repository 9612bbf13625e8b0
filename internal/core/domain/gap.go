package domain

import "time"

// Gap represents a time interval in the stored price series lacking observations.
type Gap struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Status    GapStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type GapStatus string

const (
	GapStatusPending  GapStatus = "pending"
	GapStatusRepaired GapStatus = "repaired"
)

// Duration returns the span of the gap.
func (g *Gap) Duration() time.Duration {
	return g.EndTime.Sub(g.StartTime)
}

// LedgerRange is an inclusive ledger-index interval.
type LedgerRange struct {
	Start uint32
	End   uint32
}

// Empty reports whether the range contains no ledgers.
func (r LedgerRange) Empty() bool {
	return r.End < r.Start || (r.Start == 0 && r.End == 0)
}

// Clip bounds the range to [min, max]. The result is empty when the
// original range lies entirely outside the bounds.
func (r LedgerRange) Clip(min, max uint32) LedgerRange {
	if r.End < min || r.Start > max {
		return LedgerRange{}
	}
	clipped := r
	if clipped.Start < min {
		clipped.Start = min
	}
	if clipped.End > max {
		clipped.End = max
	}
	return clipped
}

// Size returns the number of ledgers covered by the range.
func (r LedgerRange) Size() uint32 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}
