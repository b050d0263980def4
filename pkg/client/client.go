// Package client is the controller side of the relay protocol. Every call
// opens its own websocket connection, sends one request, waits for one
// response and closes the connection.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

const (
	// DefaultQueryTimeout bounds list_nodes and find_by_capability.
	DefaultQueryTimeout = 5 * time.Second
	// DefaultCommandTimeout exceeds the relay's own 30s wait so the relay's
	// command_timeout reaches the caller instead of a local one.
	DefaultCommandTimeout = 35 * time.Second
)

// ErrConnectionLost is returned, wrapped, when the relay cannot be reached
// or the connection drops before a response arrives.
var ErrConnectionLost = protocol.ErrConnectionLost

// Client talks to a relay at a websocket URL.
type Client struct {
	url            string
	dialer         *websocket.Dialer
	queryTimeout   time.Duration
	commandTimeout time.Duration
	secret         string
}

// Option configures a Client.
type Option func(*Client)

// WithQueryTimeout overrides DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Client) { c.queryTimeout = d }
}

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) { c.commandTimeout = d }
}

// WithCommandSecret signs every action with the nodes' shared secret.
func WithCommandSecret(secret string) Option {
	return func(c *Client) { c.secret = secret }
}

// New creates a client for the relay at url (ws:// or wss://).
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		queryTimeout:   DefaultQueryTimeout,
		commandTimeout: DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the relay address.
func (c *Client) URL() string { return c.url }

// roundTrip sends req on a fresh connection and returns the first frame back.
func (c *Client) roundTrip(ctx context.Context, req any, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionLost, c.url, err)
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	deadline, _ := ctx.Deadline()
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrConnectionLost, err)
	}

	ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		// The read deadline and the context deadline are the same instant;
		// either one firing first is our timeout.
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &protocol.Error{
				Kind:           protocol.KindCommandTimeout,
				Message:        fmt.Sprintf("no response from relay within %s", timeout),
				TimeoutSeconds: timeout.Seconds(),
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: await response: %v", ErrConnectionLost, err)
	}
	return data, nil
}

// query runs a registry request and decodes a successful reply into out.
func (c *Client) query(ctx context.Context, req, out any) error {
	raw, err := c.roundTrip(ctx, req, c.queryTimeout)
	if err != nil {
		return err
	}
	res, err := protocol.DecodeResult(raw)
	if err != nil {
		return err
	}
	if !res.OK() {
		return res.Err
	}
	return json.Unmarshal(raw, out)
}

// ListNodes returns the relay's registry snapshot.
func (c *Client) ListNodes(ctx context.Context) (protocol.ListNodesResponse, error) {
	var resp protocol.ListNodesResponse
	err := c.query(ctx, protocol.ListNodesRequest{Type: protocol.TypeListNodes}, &resp)
	return resp, err
}

// FindByCapability returns the nodes that declare capability.
func (c *Client) FindByCapability(ctx context.Context, capability string) ([]string, error) {
	var resp protocol.FindByCapabilityResponse
	err := c.query(ctx, protocol.FindByCapabilityRequest{
		Type:       protocol.TypeFindByCapability,
		Capability: capability,
	}, &resp)
	return resp.Nodes, err
}

// SendCommand routes action to target and returns the node's raw response.
// When the response is an error object, the raw response is returned along
// with the decoded *protocol.Error.
func (c *Client) SendCommand(ctx context.Context, target string, action protocol.Action) (json.RawMessage, error) {
	action = action.Clone()
	if err := protocol.SignAction(action, c.secret); err != nil {
		return nil, fmt.Errorf("sign action: %w", err)
	}
	raw, err := c.roundTrip(ctx, protocol.CommandRequest{
		Type:   protocol.TypeCommand,
		Target: target,
		Action: action,
	}, c.commandTimeout)
	if err != nil {
		return nil, err
	}
	res, err := protocol.DecodeResult(raw)
	if err != nil {
		return raw, err
	}
	if !res.OK() {
		return raw, res.Err
	}
	return raw, nil
}

func command[T any](ctx context.Context, c *Client, target, name string, params map[string]any) (T, error) {
	var out T
	raw, err := c.SendCommand(ctx, target, protocol.NewAction(name, params))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", name, err)
	}
	return out, nil
}

// Ping checks that target answers.
func (c *Client) Ping(ctx context.Context, target string) (protocol.PingResult, error) {
	return command[protocol.PingResult](ctx, c, target, protocol.ActionPing, nil)
}

// Info returns target's host facts and current capabilities.
func (c *Client) Info(ctx context.Context, target string) (protocol.InfoResult, error) {
	return command[protocol.InfoResult](ctx, c, target, protocol.ActionInfo, nil)
}

// Shell runs command on target. timeout <= 0 uses the node's default.
func (c *Client) Shell(ctx context.Context, target, cmd string, timeout time.Duration) (protocol.ShellResult, error) {
	params := map[string]any{"command": cmd}
	if timeout > 0 {
		params["timeout"] = timeout.Seconds()
	}
	return command[protocol.ShellResult](ctx, c, target, protocol.ActionShell, params)
}

// Screenshot captures target's screen and returns the PNG bytes.
func (c *Client) Screenshot(ctx context.Context, target string) ([]byte, error) {
	res, err := command[protocol.ScreenshotResult](ctx, c, target, protocol.ActionScreenshot, nil)
	if err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(res.Image)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return png, nil
}

// Click clicks the left button at x, y on target's screen.
func (c *Client) Click(ctx context.Context, target string, x, y int) error {
	_, err := c.SendCommand(ctx, target, protocol.NewAction(protocol.ActionClick, map[string]any{"x": x, "y": y}))
	return err
}

// TypeText types text on target.
func (c *Client) TypeText(ctx context.Context, target, text string) error {
	_, err := c.SendCommand(ctx, target, protocol.NewAction(protocol.ActionType, map[string]any{"text": text}))
	return err
}

// Hotkey presses keys together on target, modifiers first.
func (c *Client) Hotkey(ctx context.Context, target string, keys ...string) error {
	_, err := c.SendCommand(ctx, target, protocol.NewAction(protocol.ActionHotkey, map[string]any{"keys": keys}))
	return err
}

// Ollama asks target's local model runtime to complete prompt.
func (c *Client) Ollama(ctx context.Context, target, model, prompt string) (protocol.OllamaResult, error) {
	return command[protocol.OllamaResult](ctx, c, target, protocol.ActionOllama, map[string]any{
		"model":  model,
		"prompt": prompt,
	})
}

// Lua runs script on target with params visible as the global "params".
func (c *Client) Lua(ctx context.Context, target, script string, params map[string]any) (any, error) {
	p := map[string]any{"script": script}
	for k, v := range params {
		p[k] = v
	}
	res, err := command[struct {
		Result any `json:"result"`
	}](ctx, c, target, protocol.ActionLua, p)
	return res.Result, err
}
