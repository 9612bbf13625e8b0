package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rippleEpochOffset is the number of seconds between the Unix epoch and the
// Ripple epoch (2000-01-01T00:00:00Z).
const rippleEpochOffset = 946684800

// RippleTime converts a Ripple-epoch timestamp to UTC.
func RippleTime(secs int64) time.Time {
	return time.Unix(secs+rippleEpochOffset, 0).UTC()
}

// Amount is an issued-currency amount as it appears in transaction payloads.
type Amount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// Transaction carries the fields of a ledger transaction this service
// inspects. Unrelated transaction types simply leave LimitAmount nil.
type Transaction struct {
	Hash            string  `json:"hash"`
	TransactionType string  `json:"TransactionType"`
	Account         string  `json:"Account"`
	Sequence        uint32  `json:"Sequence"`
	Date            int64   `json:"date"`
	LedgerIndex     uint32  `json:"ledger_index"`
	LimitAmount     *Amount `json:"LimitAmount,omitempty"`
}

// ServerState summarizes a server_info response.
type ServerState struct {
	ValidatedLedger uint32
	OldestRetained  uint32
	NewestRetained  uint32
}

// HasHistory reports whether the server advertised a retained-ledger range.
func (s ServerState) HasHistory() bool {
	return s.NewestRetained > 0
}

// LedgerData is one closed ledger with its expanded transactions.
type LedgerData struct {
	Index        uint32
	CloseTime    time.Time
	Transactions []Transaction
}

// ParseCompleteLedgers parses a rippled complete_ledgers string such as
// "32570-61234567" or "2-5,32570-61234567". Servers prune from the oldest
// end, so the final contiguous segment is the usable window. Returns
// ok=false for "empty" (a server with no validated history yet).
func ParseCompleteLedgers(s string) (min, max uint32, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "empty" {
		return 0, 0, false, nil
	}

	segments := strings.Split(s, ",")
	last := strings.TrimSpace(segments[len(segments)-1])

	parts := strings.Split(last, "-")
	switch len(parts) {
	case 1:
		v, perr := strconv.ParseUint(parts[0], 10, 32)
		if perr != nil {
			return 0, 0, false, fmt.Errorf("invalid complete_ledgers %q: %w", s, perr)
		}
		return uint32(v), uint32(v), true, nil
	case 2:
		lo, perr := strconv.ParseUint(parts[0], 10, 32)
		if perr != nil {
			return 0, 0, false, fmt.Errorf("invalid complete_ledgers %q: %w", s, perr)
		}
		hi, perr := strconv.ParseUint(parts[1], 10, 32)
		if perr != nil {
			return 0, 0, false, fmt.Errorf("invalid complete_ledgers %q: %w", s, perr)
		}
		if lo > hi {
			return 0, 0, false, fmt.Errorf("invalid complete_ledgers %q: min > max", s)
		}
		return uint32(lo), uint32(hi), true, nil
	default:
		return 0, 0, false, fmt.Errorf("invalid complete_ledgers %q", s)
	}
}
