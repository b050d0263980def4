package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// Conn is the node's open channel. The registry entry owns it.
type Conn interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// Entry is one connected node.
type Entry struct {
	Name         string
	Capabilities protocol.Capabilities
	ConnectedAt  time.Time

	conn      Conn
	responses *Queue
	busy      chan struct{}
}

// Conn returns the node's connection.
func (e *Entry) Conn() Conn { return e.conn }

// Responses returns the queue of command results received from the node.
func (e *Entry) Responses() *Queue { return e.responses }

// Acquire reserves the node for one command exchange. Only one exchange runs
// per node because responses are matched to commands by arrival order.
func (e *Entry) Acquire(ctx context.Context) error {
	select {
	case e.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release ends an exchange started with Acquire.
func (e *Entry) Release() {
	<-e.busy
}

// Registry tracks connected nodes by name.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]*Entry
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		nodes:  make(map[string]*Entry),
		logger: logger.With().Str("component", "registry").Logger(),
		now:    time.Now,
	}
}

// Register creates the entry for name, replacing any existing one.
// The replaced entry, if any, is returned; its connection is left open.
// A node re-registering on the connection it already holds keeps its
// response queue and busy slot, so a command in flight still gets its answer.
func (r *Registry) Register(name string, caps protocol.Capabilities, conn Conn) (entry, replaced *Entry) {
	if caps == nil {
		caps = protocol.Capabilities{}
	}
	entry = &Entry{
		Name:         name,
		Capabilities: caps,
		ConnectedAt:  r.now(),
		conn:         conn,
		responses:    NewQueue(),
		busy:         make(chan struct{}, 1),
	}

	r.mu.Lock()
	replaced = r.nodes[name]
	sameConn := replaced != nil && replaced.conn == conn
	if sameConn {
		entry.ConnectedAt = replaced.ConnectedAt
		entry.responses = replaced.responses
		entry.busy = replaced.busy
	}
	r.nodes[name] = entry
	r.mu.Unlock()

	ev := r.logger.Info()
	if replaced != nil && !sameConn {
		ev = r.logger.Warn().Str("previous_addr", replaced.conn.RemoteAddr())
	}
	ev.Str("node", name).
		Str("addr", conn.RemoteAddr()).
		Strs("capabilities", caps.Keys()).
		Bool("replaced", replaced != nil).
		Msg("node registered")
	return entry, replaced
}

// Remove deletes entry if it is still the current registration for its name.
// A superseded entry never removes the registration that replaced it.
func (r *Registry) Remove(entry *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.nodes[entry.Name]
	if !ok || current != entry {
		return false
	}
	delete(r.nodes, entry.Name)
	r.logger.Info().Str("node", entry.Name).Msg("node removed")
	return true
}

// Lookup returns the current entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[name]
	return e, ok
}

// Names returns the registered node names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the list_nodes view of the registry.
func (r *Registry) Snapshot() protocol.ListNodesResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp := protocol.ListNodesResponse{
		Nodes:    make([]string, 0, len(r.nodes)),
		Registry: make(map[string]protocol.NodeInfo, len(r.nodes)),
	}
	for name, e := range r.nodes {
		resp.Nodes = append(resp.Nodes, name)
		resp.Registry[name] = protocol.NodeInfo{
			Capabilities: e.Capabilities,
			ConnectedAt:  e.ConnectedAt,
			Online:       true,
		}
	}
	sort.Strings(resp.Nodes)
	return resp
}

// FindByCapability returns the sorted names of nodes declaring a truthy capability.
func (r *Registry) FindByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := []string{}
	for name, e := range r.nodes {
		if e.Capabilities.Has(capability) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
