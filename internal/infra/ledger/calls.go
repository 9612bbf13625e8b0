package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServerState fetches and parses a server_info report.
func (c *Conn) ServerState(ctx context.Context) (ServerState, error) {
	raw, err := c.Request(ctx, "server_info", nil)
	if err != nil {
		return ServerState{}, err
	}

	var resp struct {
		Info struct {
			CompleteLedgers string `json:"complete_ledgers"`
			ValidatedLedger struct {
				Seq uint32 `json:"seq"`
			} `json:"validated_ledger"`
		} `json:"info"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ServerState{}, fmt.Errorf("decode server_info: %w", err)
	}

	state := ServerState{ValidatedLedger: resp.Info.ValidatedLedger.Seq}
	min, max, ok, err := ParseCompleteLedgers(resp.Info.CompleteLedgers)
	if err != nil {
		return ServerState{}, err
	}
	if ok {
		state.OldestRetained = min
		state.NewestRetained = max
	}
	return state, nil
}

// AccountTx fetches the account's most recent transactions, newest first.
// Unvalidated entries are dropped.
func (c *Conn) AccountTx(ctx context.Context, account string, limit int) ([]Transaction, error) {
	params := map[string]any{
		"account":          account,
		"limit":            limit,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
	}
	raw, err := c.Request(ctx, "account_tx", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Transactions []struct {
			Tx        Transaction `json:"tx"`
			Validated bool        `json:"validated"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode account_tx: %w", err)
	}

	txs := make([]Transaction, 0, len(resp.Transactions))
	for _, entry := range resp.Transactions {
		if !entry.Validated {
			continue
		}
		txs = append(txs, entry.Tx)
	}
	return txs, nil
}

// LedgerTransactions fetches one closed ledger with expanded transactions.
func (c *Conn) LedgerTransactions(ctx context.Context, index uint32) (*LedgerData, error) {
	params := map[string]any{
		"ledger_index": index,
		"transactions": true,
		"expand":       true,
	}
	raw, err := c.Request(ctx, "ledger", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Ledger struct {
			CloseTime    int64         `json:"close_time"`
			Transactions []Transaction `json:"transactions"`
		} `json:"ledger"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode ledger %d: %w", index, err)
	}

	return &LedgerData{
		Index:        index,
		CloseTime:    RippleTime(resp.Ledger.CloseTime),
		Transactions: resp.Ledger.Transactions,
	}, nil
}
