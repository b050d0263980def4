package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/internal/registry"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// Server serves the read-only status API next to the relay endpoint.
type Server struct {
	registry    *registry.Registry
	startedAt   time.Time
	natsRunning bool
	events      *EventBus
	logger      zerolog.Logger
}

// New creates an API server over the relay's registry.
func New(reg *registry.Registry, startedAt time.Time, natsRunning bool, logger zerolog.Logger) *Server {
	return &Server{
		registry:    reg,
		startedAt:   startedAt,
		natsRunning: natsRunning,
		events:      NewEventBus(DefaultRecentEvents),
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Mount registers the API routes on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/v1/events", s.handleEventStream)
	mux.HandleFunc("GET /api/v1/events/recent", s.handleRecentEvents)
}

// Events returns the bus feeding the event endpoints. The daemon publishes
// every lifecycle event it sees on NATS into it.
func (s *Server) Events() *EventBus { return s.events }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, protocol.StatusResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startedAt).Truncate(time.Second).String(),
		NATSRunning: s.natsRunning,
		StartedAt:   s.startedAt,
		NodeCount:   s.registry.Count(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.registry.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}
