// Package jsonrpc implements a generic JSON-RPC 2.0 client over HTTP. It is
// used to talk to EVM node endpoints for read-only queries that do not need
// the full ethclient surface, such as historical balance lookups.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrProviderReturnedError indicates the remote JSON-RPC server answered
// with an error object rather than a result.
var ErrProviderReturnedError = errors.New("provider error")

// response models a JSON-RPC 2.0 response envelope.
type response struct {
	JsonRPC string `json:"jsonrpc"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Err converts an embedded JSON-RPC error object into a Go error wrapping
// ErrProviderReturnedError, or returns nil when the call succeeded.
func (r response) Err() error {
	if r.Error == nil {
		return nil
	}

	return fmt.Errorf("%w: [%d] - %s", ErrProviderReturnedError, r.Error.Code, r.Error.Message)
}

// Client is the minimal JSON-RPC client contract, kept as an interface so
// callers can be tested against mocks.
type Client interface {
	// Fetch performs a JSON-RPC call with the given method and parameters,
	// returning the raw result payload.
	Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// client is the HTTP-backed implementation of Client.
type client struct {
	providerEndpoint string       // remote JSON-RPC server URL
	httpClient       *http.Client // transport used for requests
}

var _ Client = (*client)(nil)

// Fetch sends a single JSON-RPC request. The request id is a fresh UUID.
func (c *client) Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var data response
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}

	return data.Result, data.Err()
}

// NewClient returns a Client that sends JSON-RPC requests to the given
// provider endpoint using the supplied HTTP client.
func NewClient(httpClient *http.Client, providerEndpoint string) *client {
	return &client{
		providerEndpoint: providerEndpoint,
		httpClient:       httpClient,
	}
}
