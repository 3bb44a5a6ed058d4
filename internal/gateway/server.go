// Package gateway serves the coordinator to operator dashboards over HTTP and WebSocket.
// It only uses the coordinator's public operations.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/models"
	"github.com/tidewatch/drone-coordinator/internal/services"
)

const (
	maxBodyBytes    = 64 * 1024
	shutdownTimeout = 5 * time.Second
)

// Coordinator is the subset of the drone service the gateway exposes.
type Coordinator interface {
	GetDrones() []models.Drone
	GetDrone(id string) (models.Drone, bool)
	ValidateCommand(droneID string, command models.Command, params models.CommandParams) models.ValidationResult
	SendCommand(ctx context.Context, droneID string, command models.Command, params models.CommandParams) models.CommandResponse
	Subscribe(listener services.Listener) func()
	IsConnected() bool
}

// BasePositionSource provides the support vessel's latest fix.
type BasePositionSource interface {
	LastPosition() (models.BasePosition, bool)
}

// Server is the HTTP/WebSocket gateway.
type Server struct {
	addr        string
	coordinator Coordinator
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	mu         sync.Mutex
	base       BasePositionSource
	httpServer *http.Server
	stopping   bool
	streams    map[string]*stream
	wg         sync.WaitGroup
}

// NewServer creates a gateway listening on addr.
func NewServer(addr string, coordinator Coordinator, logger zerolog.Logger) *Server {
	return &Server{
		addr:        addr,
		coordinator: coordinator,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboards are served from a different origin
			},
		},
		streams: make(map[string]*stream),
	}
}

// SetBaseStation enables GET /api/base.
func (s *Server) SetBaseStation(base BasePositionSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = base
}

// Routes returns the HTTP routes for the gateway.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.HandleStatus)
	r.Get("/api/base", s.HandleBasePosition)
	r.Get("/api/drones", s.HandleListDrones)
	r.Get("/api/drones/{id}", s.HandleGetDrone)
	r.Post("/api/drones/{id}/validate", s.HandleValidateCommand)
	r.Post("/api/drones/{id}/commands", s.HandleSendCommand)
	r.Get("/ws", s.HandleStream)
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		s.logger.Warn().Msg("Gateway is already running")
		return errors.New("gateway is already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Error().Err(err).Str("addr", s.addr).Msg("Failed to bind gateway")
		return err
	}

	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.stopping = false

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway stopped unexpectedly")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Gateway started")
	return nil
}

// Stop shuts the HTTP server down and closes open streams.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.stopping = true
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	if srv == nil {
		s.logger.Warn().Msg("Gateway is not running")
		return errors.New("gateway is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)

	// Hijacked websocket connections are not closed by Shutdown.
	for _, st := range streams {
		st.close()
	}
	s.wg.Wait()

	if err != nil {
		s.logger.Error().Err(err).Msg("Gateway shutdown failed")
		return err
	}
	s.logger.Info().Msg("Gateway stopped")
	return nil
}
