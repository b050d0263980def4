package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jarvis-automation/jarvis/pkg/client"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// RelayAPI is what the MCP tools need from the relay.
// Implemented by APIClient; tests can provide a mock.
type RelayAPI interface {
	GetStatus(ctx context.Context) (*protocol.StatusResponse, error)
	ListNodes(ctx context.Context) (protocol.ListNodesResponse, error)
	FindByCapability(ctx context.Context, capability string) ([]string, error)
	SendCommand(ctx context.Context, target string, action protocol.Action) (json.RawMessage, error)
}

// APIClient reaches the relay over its websocket protocol for routing and
// over its HTTP status API for daemon health.
type APIClient struct {
	*client.Client
	http    *http.Client
	baseURL string
}

// NewAPIClient creates an APIClient for the relay at relayURL (ws:// or wss://).
func NewAPIClient(relayURL string, opts ...client.Option) (*APIClient, error) {
	base, err := httpBase(relayURL)
	if err != nil {
		return nil, err
	}
	return &APIClient{
		Client:  client.New(relayURL, opts...),
		http:    &http.Client{Timeout: 5 * time.Second},
		baseURL: base,
	}, nil
}

// httpBase maps the relay's websocket URL to the HTTP origin serving the
// status API on the same listener.
func httpBase(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("relay url must use ws or wss, got %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

func (c *APIClient) GetStatus(ctx context.Context) (*protocol.StatusResponse, error) {
	var resp protocol.StatusResponse
	if err := c.getJSON(ctx, "/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
