package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSProvider implements Provider over the rippled websocket API.
// Requests carry an id and responses are correlated by it, so a single
// session serves interleaved callers.
type WSProvider struct {
	name string
	url  string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan wsReply
	nextID  uint64
}

type wsReply struct {
	result json.RawMessage
	err    error
}

type wsMessage struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// NewWSProvider creates a new websocket-based rippled provider.
func NewWSProvider(name, url string) *WSProvider {
	return &WSProvider{
		name:    name,
		url:     url,
		pending: make(map[uint64]chan wsReply),
	}
}

// Name returns the provider identifier.
func (p *WSProvider) Name() string { return p.name }

// Connect dials the endpoint and starts the read loop.
func (p *WSProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.url, err)
	}

	p.conn = conn
	go p.readLoop(conn)
	return nil
}

// Call executes one rippled command over the live session.
func (p *WSProvider) Call(
	ctx context.Context,
	command string,
	params map[string]any,
) (json.RawMessage, error) {
	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}

	p.nextID++
	id := p.nextID
	replyCh := make(chan wsReply, 1)
	p.pending[id] = replyCh

	req := map[string]any{
		"id":      id,
		"command": command,
	}
	for k, v := range params {
		req[k] = v
	}

	// gorilla websocket allows only one concurrent writer
	err := conn.WriteJSON(req)
	p.mu.Unlock()

	if err != nil {
		p.dropPending(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		p.dropPending(id)
		return nil, ctx.Err()
	case reply := <-replyCh:
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.result, nil
	}
}

// Close releases the session. In-flight calls fail with a connection error.
func (p *WSProvider) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (p *WSProvider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.failAll(conn, err)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "" && msg.Type != "response" {
			// Subscription streams are not consumed here.
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[msg.ID]
		if ok {
			delete(p.pending, msg.ID)
		}
		p.mu.Unlock()
		if !ok {
			continue
		}

		if msg.Status == "error" {
			code := msg.Error
			if code == "" {
				code = "unknown"
			}
			ch <- wsReply{err: &RPCError{Code: code, Message: msg.ErrorMessage}}
			continue
		}
		ch <- wsReply{result: msg.Result}
	}
}

// failAll resolves every pending call with a connection error and drops
// the session, but only if conn is still the live one.
func (p *WSProvider) failAll(conn *websocket.Conn, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == conn {
		p.conn = nil
		_ = conn.Close()
	}

	err := fmt.Errorf("session lost: %w", cause)
	if cause == nil {
		err = net.ErrClosed
	}
	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- wsReply{err: err}
	}
}

func (p *WSProvider) dropPending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
