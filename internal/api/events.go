package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// DefaultRecentEvents is how many lifecycle events the bus keeps for replay.
const DefaultRecentEvents = 100

// EventBus fans lifecycle events out to stream clients and keeps a ring
// buffer of recent events.
type EventBus struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	ring    [][]byte
	pos     int
	n       int
}

// NewEventBus creates an event bus that remembers the last size events.
func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = DefaultRecentEvents
	}
	return &EventBus{
		clients: make(map[chan []byte]struct{}),
		ring:    make([][]byte, size),
	}
}

// Publish records data and hands it to every subscriber. Slow subscribers
// miss events instead of blocking the publisher.
func (b *EventBus) Publish(data []byte) {
	data = append([]byte(nil), data...)

	b.mu.Lock()
	b.ring[b.pos] = data
	b.pos = (b.pos + 1) % len(b.ring)
	if b.n < len(b.ring) {
		b.n++
	}
	clients := make([]chan []byte, 0, len(b.clients))
	for ch := range b.clients {
		clients = append(clients, ch)
	}
	b.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription.
func (b *EventBus) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
	}
}

// Recent returns the buffered events, oldest first.
func (b *EventBus) Recent() [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([][]byte, 0, b.n)
	start := (b.pos - b.n + len(b.ring)) % len(b.ring)
	for i := 0; i < b.n; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	recent := s.events.Recent()
	events := make([]json.RawMessage, 0, len(recent))
	for _, data := range recent {
		if json.Valid(data) {
			events = append(events, data)
		}
	}
	s.writeJSON(w, map[string]any{"events": events})
}

// handleEventStream serves lifecycle events as server-sent events, one JSON
// protocol.Event per "data:" line.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, unsub := s.events.Subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case data := <-ch:
			if !json.Valid(data) {
				continue
			}
			fmt.Fprintf(w, "event: lifecycle\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
