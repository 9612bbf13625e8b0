package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRippleTime(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := RippleTime(0); !got.Equal(epoch) {
		t.Errorf("RippleTime(0) = %v, want %v", got, epoch)
	}

	later := epoch.Add(700000000 * time.Second)
	if got := RippleTime(700000000); !got.Equal(later) {
		t.Errorf("RippleTime(700000000) = %v, want %v", got, later)
	}
}

func TestParseCompleteLedgers(t *testing.T) {
	tests := []struct {
		in       string
		min, max uint32
		ok       bool
		wantErr  bool
	}{
		{"32570-90000000", 32570, 90000000, true, false},
		{"2-5,32570-90000000", 32570, 90000000, true, false},
		{"12345", 12345, 12345, true, false},
		{"empty", 0, 0, false, false},
		{"", 0, 0, false, false},
		{"abc-def", 0, 0, false, true},
		{"9-5", 0, 0, false, true},
		{"1-2-3", 0, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			min, max, ok, err := ParseCompleteLedgers(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.ok || min != tt.min || max != tt.max {
				t.Errorf("got (%d, %d, %v), want (%d, %d, %v)",
					min, max, ok, tt.min, tt.max, tt.ok)
			}
		})
	}
}

func TestOraclePrice(t *testing.T) {
	const account = "rOracle"
	tx := Transaction{
		TransactionType: "TrustSet",
		Account:         account,
		LimitAmount:     &Amount{Currency: "usd", Issuer: "rIssuer", Value: "2.35"},
	}

	price, ok := tx.OraclePrice(account, "USD")
	if !ok {
		t.Fatal("expected a qualifying transaction")
	}
	if !price.Equal(decimal.RequireFromString("2.35")) {
		t.Errorf("price = %s, want 2.35", price)
	}

	if _, ok := tx.OraclePrice("rSomeoneElse", "USD"); ok {
		t.Error("expected mismatching account to be rejected")
	}
}
