package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OraclePrice extracts a published price from a transaction: a TrustSet
// from the oracle account whose trust-line limit is denominated in the
// reference currency. The limit value is the price; it must parse to a
// positive decimal.
func (t *Transaction) OraclePrice(account, currency string) (decimal.Decimal, bool) {
	if t.TransactionType != "TrustSet" || t.Account != account || t.LimitAmount == nil {
		return decimal.Decimal{}, false
	}
	if !strings.EqualFold(t.LimitAmount.Currency, currency) {
		return decimal.Decimal{}, false
	}

	price, err := decimal.NewFromString(t.LimitAmount.Value)
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, false
	}
	return price, true
}
