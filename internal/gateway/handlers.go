package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/models"
)

type commandRequest struct {
	Command models.Command       `json:"command"`
	Params  models.CommandParams `json:"params,omitempty"`
}

type statusResponse struct {
	Connected bool `json:"connected"`
	Drones    int  `json:"drones"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleStatus reports transport liveness and fleet size.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Connected: s.coordinator.IsConnected(),
		Drones:    len(s.coordinator.GetDrones()),
	})
}

// HandleBasePosition returns the support vessel's latest fix, or 404 when none is known.
func (s *Server) HandleBasePosition(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	if base == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "base station not configured"})
		return
	}
	position, ok := base.LastPosition()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no base position fix yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, position)
}

// HandleListDrones returns every known drone.
func (s *Server) HandleListDrones(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.GetDrones())
}

// HandleGetDrone returns one drone or 404.
func (s *Server) HandleGetDrone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	drone, ok := s.coordinator.GetDrone(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: constants.ErrMsgDroneNotFound})
		return
	}
	s.writeJSON(w, http.StatusOK, drone)
}

// HandleValidateCommand runs validation without dispatching.
func (s *Server) HandleValidateCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	result := s.coordinator.ValidateCommand(chi.URLParam(r, "id"), req.Command, req.Params)
	s.writeJSON(w, http.StatusOK, result)
}

// HandleSendCommand dispatches a command. 202 means the broker accepted it, not
// that the drone carried it out.
func (s *Server) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}

	droneID := chi.URLParam(r, "id")
	resp := s.coordinator.SendCommand(r.Context(), droneID, req.Command, req.Params)

	status := http.StatusAccepted
	switch {
	case resp.Success:
	case resp.Code == constants.CodeValidationFailed:
		status = http.StatusUnprocessableEntity
	case resp.Code == constants.CodeTimeout:
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusServiceUnavailable
	}

	s.logger.Info().
		Str("drone_id", droneID).
		Str("command", string(req.Command)).
		Bool("success", resp.Success).
		Str("code", resp.Code).
		Str("remote_addr", r.RemoteAddr).
		Msg("Command request handled")
	s.writeJSON(w, status, resp)
}

func (s *Server) decodeCommand(w http.ResponseWriter, r *http.Request) (commandRequest, bool) {
	var req commandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return req, false
	}
	req.Command = models.Command(strings.TrimSpace(string(req.Command)))
	if req.Command == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "command is required"})
		return req, false
	}
	return req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
