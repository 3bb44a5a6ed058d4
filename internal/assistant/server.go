// Package assistant exposes the coordinator as MCP tools so the assistant panels
// can inspect the fleet and dispatch commands through the same validation path as operators.
package assistant

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/models"
)

const (
	serverName    = "drone-coordinator"
	serverVersion = "1.0.0"
)

// Coordinator is the subset of the drone service the tools use.
type Coordinator interface {
	GetDrones() []models.Drone
	GetDrone(id string) (models.Drone, bool)
	ValidateCommand(droneID string, command models.Command, params models.CommandParams) models.ValidationResult
	SendCommand(ctx context.Context, droneID string, command models.Command, params models.CommandParams) models.CommandResponse
}

// Server hosts the MCP tools over SSE.
type Server struct {
	addr        string
	baseURL     string
	coordinator Coordinator
	logger      zerolog.Logger

	mcpServer *server.MCPServer

	mu      sync.Mutex
	sse     *server.SSEServer
	serving sync.WaitGroup
}

// NewServer builds the MCP server and registers the drone tools.
func NewServer(addr, baseURL string, coordinator Coordinator, logger zerolog.Logger) *Server {
	s := &Server{
		addr:        addr,
		baseURL:     baseURL,
		coordinator: coordinator,
		logger:      logger,
		mcpServer:   server.NewMCPServer(serverName, serverVersion),
	}
	s.registerTools()
	return s
}

// Start serves SSE in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sse != nil {
		s.logger.Warn().Msg("Assistant server is already running")
		return errors.New("assistant server is already running")
	}

	var opts []server.SSEOption
	if s.baseURL != "" {
		opts = append(opts, server.WithBaseURL(s.baseURL))
	}
	s.sse = server.NewSSEServer(s.mcpServer, opts...)

	sse := s.sse
	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		if err := sse.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.addr).Msg("Assistant server stopped unexpectedly")
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("Assistant server started")
	return nil
}

// Stop shuts the SSE server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	sse := s.sse
	s.sse = nil
	s.mu.Unlock()

	if sse == nil {
		s.logger.Warn().Msg("Assistant server is not running")
		return errors.New("assistant server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sse.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Assistant server shutdown failed")
		return err
	}
	s.serving.Wait()

	s.logger.Info().Msg("Assistant server stopped")
	return nil
}
