package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/oraclewatch/xrpusd/internal/ingest/metrics"
)

// Conn is the single logical RPC channel to the ledger network. It hides
// multi-server failover and request pacing from callers.
type Conn struct {
	providers []Provider
	limiter   *rate.Limiter
	log       *slog.Logger

	mu     sync.Mutex
	next   int // rotation cursor into providers
	active Provider
}

// New creates a connection over an ordered provider list. requestInterval
// is the minimum spacing between outbound requests.
func New(providers []Provider, requestInterval time.Duration) *Conn {
	return &Conn{
		providers: providers,
		limiter:   rate.NewLimiter(rate.Every(requestInterval), 1),
		log:       slog.Default().With("component", "ledger"),
	}
}

// Connect establishes a session with the first reachable server, trying
// the list in rotation order. Returns ErrServersExhausted when every
// server failed.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Conn) connectLocked(ctx context.Context) error {
	for range c.providers {
		p := c.providers[c.next%len(c.providers)]
		c.next++

		// One quick retry per server; total connect time is bounded by
		// the list length, not a wall clock.
		backoff := retry.WithMaxRetries(1, retry.NewConstant(250*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if cerr := p.Connect(ctx); cerr != nil {
				return retry.RetryableError(cerr)
			}
			return nil
		})
		if err == nil {
			c.active = p
			c.log.Info("Connected to ledger server", "server", p.Name())
			return nil
		}

		c.log.Warn("Ledger server unreachable", "server", p.Name(), "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrServersExhausted
}

// Request executes one rippled command on the live session, pacing
// outbound requests and reconnecting (with server rotation) on
// connection-class failures. A request is retried at most once; RPC
// application errors propagate unchanged.
func (c *Conn) Request(
	ctx context.Context,
	command string,
	params map[string]any,
) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.active == nil {
		if err := c.connectLocked(ctx); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	p := c.active
	c.mu.Unlock()

	result, err := p.Call(ctx, command, params)
	metrics.RPCRequestsTotal.WithLabelValues(command, p.Name()).Inc()
	if err == nil || !IsConnectionError(err) {
		return result, err
	}

	c.log.Warn("Connection lost, rotating server",
		"server", p.Name(), "command", command, "error", err)
	metrics.RPCFailoversTotal.Inc()

	c.mu.Lock()
	if c.active == p {
		_ = p.Close()
		c.active = nil
	}
	if cerr := c.connectLocked(ctx); cerr != nil {
		c.mu.Unlock()
		return nil, cerr
	}
	p = c.active
	c.mu.Unlock()

	result, err = p.Call(ctx, command, params)
	metrics.RPCRequestsTotal.WithLabelValues(command, p.Name()).Inc()
	return result, err
}

// Disconnect releases the live session. Subsequent requests reconnect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		_ = c.active.Close()
		c.active = nil
	}
}

// Connected reports whether a live session exists.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// ActiveServer returns the live server's name, or "" when disconnected.
func (c *Conn) ActiveServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.Name()
}
