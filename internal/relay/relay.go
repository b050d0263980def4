// Package relay bridges controllers and nodes over websocket connections.
//
// Every connection, node or controller, speaks the same JSON frames and is
// dispatched by the "type" field. Frames without a known type that arrive on
// a registered node's connection are command results and go to that node's
// response queue.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/internal/registry"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// DefaultCommandTimeout bounds the wait for a node's response.
const DefaultCommandTimeout = 30 * time.Second

// Publisher receives lifecycle events. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds relay settings.
type Config struct {
	CommandTimeout time.Duration
	MaxMessageSize int64 // 0 means unlimited
}

// Relay owns the node registry and routes commands between connections.
type Relay struct {
	registry *registry.Registry
	cfg      Config
	pub      Publisher
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// New creates a Relay. pub may be nil to disable lifecycle events.
func New(reg *registry.Registry, cfg Config, pub Publisher, logger zerolog.Logger) *Relay {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Relay{
		registry: reg,
		cfg:      cfg,
		pub:      pub,
		logger:   logger.With().Str("component", "relay").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Nodes and controllers are not browsers; access control is the
			// network's job.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

// Registry returns the relay's node registry.
func (r *Relay) Registry() *registry.Registry { return r.registry }

// ServeHTTP upgrades the request to a websocket and serves it until it closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug().Err(err).Str("remote_addr", req.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	p := newPeer(ws, r.cfg.MaxMessageSize)

	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	go p.keepalive()
	r.serveConn(p)

	r.mu.Lock()
	delete(r.peers, p)
	r.mu.Unlock()
}

// Close drops every open connection. Registered nodes are removed as their
// handlers observe the close.
func (r *Relay) Close() {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}

func (r *Relay) serveConn(p *peer) {
	log := r.logger.With().Str("remote_addr", p.RemoteAddr()).Logger()
	log.Debug().Msg("connection opened")

	// node is this connection's registry entry once it has registered.
	var node *registry.Entry
	defer func() {
		if node != nil && r.registry.Remove(node) {
			r.publish(protocol.StreamNodes, protocol.EventNodeDisconnected, map[string]any{
				"node": node.Name,
				"addr": p.RemoteAddr(),
			})
		}
		p.Close()
		log.Debug().Msg("connection closed")
	}()

	// Reading runs apart from handling so a controller that hangs up while
	// its command waits cancels ctx and frees the target node.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan []byte, 8)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			data, err := p.Read()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("read error")
				}
				return
			}
			select {
			case frames <- data:
			case <-p.done:
				return
			}
		}
	}()

	for data := range frames {
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("malformed frame ignored")
			continue
		}

		switch env.Type {
		case protocol.TypeRegister:
			node = r.handleRegister(p, data, node)
		case protocol.TypeCommand:
			r.handleCommand(ctx, p, data)
		case protocol.TypeListNodes:
			r.reply(p, r.registry.Snapshot())
		case protocol.TypeFindByCapability:
			r.handleFind(p, data)
		default:
			if node != nil {
				node.Responses().Push(data)
				continue
			}
			r.reply(p, &protocol.Error{
				Kind:    protocol.KindProtocolDecode,
				Message: fmt.Sprintf("unknown message type %q", env.Type),
			})
		}
	}
}

func (r *Relay) handleRegister(p *peer, data []byte, current *registry.Entry) *registry.Entry {
	var reg protocol.Register
	if err := json.Unmarshal(data, &reg); err != nil || reg.Name == "" {
		r.reply(p, &protocol.Error{
			Kind:    protocol.KindProtocolDecode,
			Message: "register requires a name and a capabilities object",
		})
		return current
	}

	// Re-registering under another name on the same connection drops the old name.
	if current != nil && current.Name != reg.Name {
		r.registry.Remove(current)
	}

	entry, replaced := r.registry.Register(reg.Name, reg.Capabilities, p)
	if replaced != nil && replaced.Conn() != registry.Conn(p) {
		r.publish(protocol.StreamNodes, protocol.EventNodeReplaced, map[string]any{
			"node":          reg.Name,
			"addr":          p.RemoteAddr(),
			"previous_addr": replaced.Conn().RemoteAddr(),
		})
	}
	r.publish(protocol.StreamNodes, protocol.EventNodeRegistered, map[string]any{
		"node":         reg.Name,
		"addr":         p.RemoteAddr(),
		"capabilities": entry.Capabilities.Keys(),
	})

	r.reply(p, protocol.Registered{
		Status:               protocol.StatusRegistered,
		Name:                 reg.Name,
		CapabilitiesReceived: entry.Capabilities.Keys(),
	})
	return entry
}

func (r *Relay) handleCommand(ctx context.Context, p *peer, data []byte) {
	var req protocol.CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		r.reply(p, &protocol.Error{
			Kind:    protocol.KindProtocolDecode,
			Message: "invalid command: " + err.Error(),
		})
		return
	}

	start := time.Now()
	resp, perr := r.Dispatch(ctx, req.Target, req.Action)
	payload := map[string]any{
		"target":      req.Target,
		"action":      req.Action.Name(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if perr != nil {
		payload["kind"] = perr.Kind
		r.publish(protocol.StreamCommands, protocol.EventCommandFailed, payload)
		r.reply(p, perr)
		return
	}
	r.publish(protocol.StreamCommands, protocol.EventCommandCompleted, payload)
	if err := p.Send(resp); err != nil {
		r.logger.Debug().Err(err).Str("remote_addr", p.RemoteAddr()).Msg("controller gone before response")
	}
}

func (r *Relay) handleFind(p *peer, data []byte) {
	var req protocol.FindByCapabilityRequest
	if err := json.Unmarshal(data, &req); err != nil {
		r.reply(p, &protocol.Error{
			Kind:    protocol.KindProtocolDecode,
			Message: "invalid find_by_capability: " + err.Error(),
		})
		return
	}
	r.reply(p, protocol.FindByCapabilityResponse{
		Capability: req.Capability,
		Nodes:      r.registry.FindByCapability(req.Capability),
	})
}

// Dispatch forwards action to target and waits for its response. The node's
// raw response is returned verbatim; routing failures come back as a
// structured error instead.
func (r *Relay) Dispatch(ctx context.Context, target string, action protocol.Action) ([]byte, *protocol.Error) {
	entry, ok := r.registry.Lookup(target)
	if !ok {
		return nil, &protocol.Error{
			Kind:           protocol.KindTargetNotFound,
			Message:        fmt.Sprintf("node '%s' not found", target),
			Target:         target,
			AvailableNodes: r.registry.Names(),
		}
	}

	name := action.Name()
	if protocol.IsRecognizedAction(name) && !entry.Capabilities.Has(name) {
		return nil, &protocol.Error{
			Kind:         protocol.KindCapabilityUnsupported,
			Message:      fmt.Sprintf("node '%s' does not support '%s'", target, name),
			Target:       target,
			Action:       name,
			Capabilities: entry.Capabilities.Keys(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	timeoutErr := &protocol.Error{
		Kind:           protocol.KindCommandTimeout,
		Message:        fmt.Sprintf("node '%s' did not respond within %s", target, r.cfg.CommandTimeout),
		Target:         target,
		Action:         name,
		TimeoutSeconds: r.cfg.CommandTimeout.Seconds(),
	}

	// callerGone reports a cancelled parent context: the controller hung up.
	callerGone := func() *protocol.Error {
		if !errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return &protocol.Error{
			Kind:    protocol.KindConnectionLost,
			Message: "controller disconnected before the response",
			Target:  target,
			Action:  name,
		}
	}

	if err := entry.Acquire(ctx); err != nil {
		if gone := callerGone(); gone != nil {
			return nil, gone
		}
		return nil, timeoutErr
	}
	defer entry.Release()

	if n := entry.Responses().Drain(); n > 0 {
		r.logger.Debug().Str("node", target).Int("dropped", n).Msg("dropped stale responses")
	}

	requestID := protocol.NewRequestID()
	fwd := action.Clone()
	fwd[protocol.FieldRequestID] = requestID
	data, err := json.Marshal(fwd)
	if err != nil {
		return nil, &protocol.Error{
			Kind:    protocol.KindProtocolDecode,
			Message: "encode action: " + err.Error(),
			Target:  target,
			Action:  name,
		}
	}
	if err := entry.Conn().Send(data); err != nil {
		return nil, &protocol.Error{
			Kind:    protocol.KindConnectionLost,
			Message: fmt.Sprintf("send to node '%s': %v", target, err),
			Target:  target,
			Action:  name,
		}
	}
	timeoutErr.RequestID = requestID

	for {
		msg, err := entry.Responses().Pop(ctx)
		if err != nil {
			if gone := callerGone(); gone != nil {
				r.logger.Debug().Str("node", target).Str("action", name).Msg("controller left before the response")
				return nil, gone
			}
			r.logger.Warn().Str("node", target).Str("action", name).Msg("command timed out")
			return nil, timeoutErr
		}
		// Nodes that echo request ids let us discard late answers to
		// earlier, timed-out commands. Nodes that don't are matched by order.
		if id := responseRequestID(msg); id != "" && id != requestID {
			r.logger.Debug().Str("node", target).Str("request_id", id).Msg("discarded late response")
			continue
		}
		return msg, nil
	}
}

func responseRequestID(msg []byte) string {
	var peek struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(msg, &peek); err != nil {
		return ""
	}
	return peek.RequestID
}

func (r *Relay) reply(p *peer, v any) {
	if err := p.SendJSON(v); err != nil {
		r.logger.Debug().Err(err).Str("remote_addr", p.RemoteAddr()).Msg("reply failed")
	}
}

// publish emits a lifecycle event. Delivery is best effort.
func (r *Relay) publish(stream, eventType string, payload map[string]any) {
	if r.pub == nil {
		return
	}
	ev := protocol.NewEvent(eventType, "jarvisd", payload)
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal event")
		return
	}
	if err := r.pub.Publish(protocol.SubjectEvents(stream), data); err != nil {
		r.logger.Error().Err(err).Str("event", eventType).Msg("publish event")
	}
}
