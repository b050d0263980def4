// Package node implements the agent that runs on an edge device: it keeps a
// connection to the relay, registers the device's capabilities and executes
// the actions routed to it.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/internal/capability"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

const (
	registerTimeout = 10 * time.Second
	writeTimeout    = 10 * time.Second
)

// Handler executes one action. A returned *protocol.Error is sent as is;
// any other error becomes an action_error.
type Handler func(ctx context.Context, action protocol.Action) (any, error)

// Agent is a node's connection to the relay.
type Agent struct {
	env      capability.Env
	dialer   *websocket.Dialer
	http     *http.Client
	logger   zerolog.Logger
	handlers map[string]Handler

	mu   sync.Mutex
	cfg  Config
	caps protocol.Capabilities
	conn *websocket.Conn

	// redial skips the reconnect wait after a deliberate disconnect.
	redial atomic.Bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithEnv replaces the host view used for probing and for GUI tools.
func WithEnv(env capability.Env) Option {
	return func(a *Agent) { a.env = env }
}

// WithHTTPClient sets the client used to reach the local model runtime.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.http = c }
}

// New creates an agent and detects the machine's capabilities.
func New(ctx context.Context, cfg Config, logger zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		env:    capability.HostEnv(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		http:   &http.Client{},
		logger: logger.With().Str("component", "node").Str("node", cfg.Node.Name).Logger(),
		cfg:    cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.handlers = map[string]Handler{
		protocol.ActionPing:       a.ping,
		protocol.ActionInfo:       a.info,
		protocol.ActionShell:      a.shell,
		protocol.ActionScreenshot: a.screenshot,
		protocol.ActionClick:      a.click,
		protocol.ActionType:       a.typeText,
		protocol.ActionHotkey:     a.hotkey,
		protocol.ActionOllama:     a.ollama,
		protocol.ActionLua:        a.lua,
	}
	a.caps = a.detect(ctx)
	return a
}

// HandleFunc registers h for action, replacing any built-in handler.
// Must be called before Run.
func (a *Agent) HandleFunc(action string, h Handler) {
	a.handlers[action] = h
}

// Capabilities returns the capability set sent on the next registration.
func (a *Agent) Capabilities() protocol.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(protocol.Capabilities, len(a.caps))
	out.Merge(a.caps)
	return out
}

func (a *Agent) config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *Agent) providers(cfg Config) []capability.Provider {
	return []capability.Provider{
		capability.Core{},
		capability.GUI{Env: a.env},
		capability.Camera{Env: a.env},
		capability.GPU{Env: a.env},
		capability.ModelRuntime{URL: cfg.Ollama.URL},
		capability.Static{Caps: cfg.Capabilities},
	}
}

func (a *Agent) detect(ctx context.Context) protocol.Capabilities {
	caps := capability.Detect(ctx, a.providers(a.config())...)
	a.logger.Debug().Strs("capabilities", caps.Keys()).Msg("capabilities detected")
	return caps
}

// Reconfigure swaps in cfg, re-detects capabilities and drops the relay
// connection so the agent re-registers with the new set.
func (a *Agent) Reconfigure(ctx context.Context, cfg Config) {
	a.mu.Lock()
	if cfg.Node.Name != a.cfg.Node.Name {
		a.logger.Warn().Str("new_name", cfg.Node.Name).Msg("node name changes take effect on restart")
		cfg.Node.Name = a.cfg.Node.Name
	}
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()

	caps := a.detect(ctx)

	a.mu.Lock()
	a.caps = caps
	conn := a.conn
	a.mu.Unlock()

	a.logger.Info().Strs("capabilities", caps.Keys()).Msg("configuration reloaded")
	if conn != nil {
		a.redial.Store(true)
		conn.Close()
	}
}

// Run connects to the relay and serves commands until ctx is cancelled,
// reconnecting at a fixed interval whenever the connection drops.
func (a *Agent) Run(ctx context.Context) error {
	for {
		err := a.session(ctx)
		if ctx.Err() != nil {
			a.logger.Info().Msg("node agent stopped")
			return nil
		}
		if a.redial.Swap(false) {
			continue
		}

		interval := a.config().Node.ReconnectInterval
		a.logger.Warn().Err(err).Dur("retry_in", interval).Msg("relay connection lost")
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("node agent stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// session runs one connection from dial to disconnect.
func (a *Agent) session(ctx context.Context) error {
	cfg := a.config()
	ws, _, err := a.dialer.DialContext(ctx, cfg.Relay.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	a.mu.Lock()
	a.conn = ws
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}()

	if err := a.register(ws, cfg.Node.Name); err != nil {
		return err
	}

	// Reading continues while a command runs so pings keep being answered.
	frames := make(chan []byte, 8)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case err := <-readErr:
			return fmt.Errorf("%w: %v", protocol.ErrConnectionLost, err)
		case data := <-frames:
			resp := a.Handle(ctx, data)
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, resp); err != nil {
				return fmt.Errorf("%w: write response: %v", protocol.ErrConnectionLost, err)
			}
		}
	}
}

func (a *Agent) register(ws *websocket.Conn, name string) error {
	caps := a.Capabilities()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(protocol.Register{
		Type:         protocol.TypeRegister,
		Name:         name,
		Capabilities: caps,
	}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(registerTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("await registration ack: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	var ack protocol.Registered
	if err := json.Unmarshal(data, &ack); err != nil || ack.Status != protocol.StatusRegistered {
		return fmt.Errorf("registration rejected: %s", data)
	}
	a.logger.Info().Strs("capabilities", ack.CapabilitiesReceived).Msg("registered with relay")
	return nil
}

// Handle executes one raw command frame and returns the response frame.
// It always produces a response; failures are encoded as error payloads.
func (a *Agent) Handle(ctx context.Context, data []byte) []byte {
	var action protocol.Action
	if err := json.Unmarshal(data, &action); err != nil {
		a.logger.Warn().Err(err).Msg("malformed command")
		return encode(&protocol.Error{
			Kind:    protocol.KindProtocolDecode,
			Message: "invalid command: " + err.Error(),
		})
	}

	start := time.Now()
	result, perr := a.dispatch(ctx, action)
	log := a.logger.With().Str("action", action.Name()).Dur("duration", time.Since(start)).Logger()

	if perr != nil {
		log.Warn().Str("kind", string(perr.Kind)).Msg(perr.Message)
		perr.RequestID = action.RequestID()
		return encode(perr)
	}
	log.Debug().Msg("action completed")

	resp, err := withRequestID(result, action.RequestID())
	if err != nil {
		return encode(&protocol.Error{
			Kind:      protocol.KindActionError,
			Message:   "encode result: " + err.Error(),
			Action:    action.Name(),
			RequestID: action.RequestID(),
		})
	}
	return resp
}

func (a *Agent) dispatch(ctx context.Context, action protocol.Action) (result any, perr *protocol.Error) {
	name := action.Name()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Str("action", name).Msg("handler panicked")
			result = nil
			perr = &protocol.Error{
				Kind:    protocol.KindActionError,
				Message: fmt.Sprintf("handler panic: %v", r),
				Action:  name,
			}
		}
	}()

	if !protocol.VerifyAction(action, a.config().Security.CommandSecret) {
		return nil, &protocol.Error{
			Kind:    protocol.KindSignatureInvalid,
			Message: "missing or invalid command signature",
			Action:  name,
		}
	}

	h, ok := a.handlers[name]
	if !ok {
		return nil, &protocol.Error{
			Kind:    protocol.KindUnknownAction,
			Message: fmt.Sprintf("unknown action: %s", name),
			Action:  name,
		}
	}

	res, err := h(ctx, action)
	if err != nil {
		var pe *protocol.Error
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, &protocol.Error{
			Kind:    protocol.KindActionError,
			Message: err.Error(),
			Action:  name,
		}
	}
	return res, nil
}

// withRequestID encodes result, adding request_id when the command had one.
func withRequestID(result any, requestID string) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil || requestID == "" {
		return data, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("result is not an object: %w", err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	id, _ := json.Marshal(requestID)
	obj[protocol.FieldRequestID] = id
	return json.Marshal(obj)
}

func encode(e *protocol.Error) []byte {
	data, _ := json.Marshal(e)
	return data
}
