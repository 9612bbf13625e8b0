package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider implements Provider for the rippled JSON-RPC API.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP-based rippled provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string { return p.name }

// Connect probes the endpoint with a ping command.
func (p *HTTPProvider) Connect(ctx context.Context) error {
	_, err := p.Call(ctx, "ping", nil)
	return err
}

// Call executes one rippled command.
func (p *HTTPProvider) Call(
	ctx context.Context,
	command string,
	params map[string]any,
) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	reqBody := map[string]any{
		"method": command,
		"params": []any{params},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(rpcResp.Result) == 0 {
		return nil, fmt.Errorf("empty result for %s", command)
	}

	if rpcErr := resultError(command, rpcResp.Result); rpcErr != nil {
		return nil, rpcErr
	}

	return rpcResp.Result, nil
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// resultError extracts an application error from a rippled result object.
func resultError(command string, result json.RawMessage) *RPCError {
	var probe struct {
		Status       string `json:"status"`
		Error        string `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(result, &probe); err != nil {
		return nil
	}
	if probe.Status == "error" || probe.Error != "" {
		code := probe.Error
		if code == "" {
			code = "unknown"
		}
		return &RPCError{Command: command, Code: code, Message: probe.ErrorMessage}
	}
	return nil
}
