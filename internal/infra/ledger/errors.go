package ledger

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	// ErrServersExhausted is returned when every configured server failed to connect.
	ErrServersExhausted = errors.New("all ledger servers failed")

	// ErrNotConnected is returned when a call is made without a live session.
	ErrNotConnected = errors.New("not connected to any ledger server")
)

// RPCError is an application-level error reported by rippled, e.g.
// actNotFound or lgrNotFound. These are never retried.
type RPCError struct {
	Command string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rippled %s: %s (%s)", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("rippled %s: %s", e.Command, e.Code)
}

// IsConnectionError reports whether err indicates session/network loss
// rather than a bad request. Connection-class errors are recoverable by
// rotating to the next server and retrying once.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"websocket: close",
		"no such host",
		"i/o timeout",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
