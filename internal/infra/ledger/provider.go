// Package ledger maintains the RPC channel to the XRP Ledger network.
//
// It contains:
//   - Provider interface: one rippled endpoint (HTTP JSON-RPC or websocket)
//   - Conn: the single logical channel with server rotation and pacing
//   - typed helpers for the server_info, account_tx and ledger commands
package ledger

import (
	"context"
	"encoding/json"
)

// Provider is a single rippled endpoint.
type Provider interface {
	// Name returns the configured server identifier.
	Name() string

	// Connect establishes the session. For HTTP this is a liveness probe;
	// for websocket it dials and starts the read loop.
	Connect(ctx context.Context) error

	// Call executes one rippled command and returns the raw result object.
	// Application-level failures are returned as *RPCError.
	Call(ctx context.Context, command string, params map[string]any) (json.RawMessage, error)

	// Close releases the session.
	Close() error
}
