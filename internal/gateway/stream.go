package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tidewatch/drone-coordinator/internal/models"
)

const (
	streamBuffer = 16
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// stream pushes drone-list snapshots to one websocket client.
type stream struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (st *stream) close() {
	st.once.Do(func() {
		close(st.done)
		st.conn.Close()
	})
}

// offer queues a frame without blocking the caller. It reports false when the client is too slow.
func (st *stream) offer(frame []byte) bool {
	select {
	case <-st.done:
		return true
	default:
	}
	select {
	case st.send <- frame:
		return true
	default:
		return false
	}
}

// HandleStream upgrades to a websocket that receives the full drone list now and after every change.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "gateway is shutting down"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	st := &stream{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, streamBuffer),
		done: make(chan struct{}),
	}

	// Registration and wg.Add happen under mu so Stop either sees this stream or refuses it.
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		st.close()
		return
	}
	s.streams[st.id] = st
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info().Str("stream_id", st.id).Str("remote_addr", r.RemoteAddr).Msg("Dashboard stream opened")

	publish := func(drones []models.Drone) {
		frame, err := json.Marshal(drones)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode drone list")
			return
		}
		if !st.offer(frame) {
			s.logger.Warn().Str("stream_id", st.id).Msg("Dashboard stream is lagging, dropping update")
		}
	}

	// Subscribe before taking the initial snapshot so no change is missed. Once a
	// notification has been queued the snapshot is at best as new, so it is skipped.
	var primeMu sync.Mutex
	primed := false
	unsubscribe := s.coordinator.Subscribe(func(drones []models.Drone) {
		primeMu.Lock()
		defer primeMu.Unlock()
		primed = true
		publish(drones)
	})

	snapshot := s.coordinator.GetDrones()
	primeMu.Lock()
	if !primed {
		publish(snapshot)
	}
	primeMu.Unlock()

	go func() {
		defer s.wg.Done()
		s.writeLoop(st)
	}()

	s.readLoop(st)

	unsubscribe()
	st.close()

	s.mu.Lock()
	delete(s.streams, st.id)
	s.mu.Unlock()

	s.logger.Info().Str("stream_id", st.id).Msg("Dashboard stream closed")
}

// readLoop drains client frames so control messages are processed; it returns when the client goes away.
func (s *Server) readLoop(st *stream) {
	st.conn.SetReadLimit(512)
	_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
	st.conn.SetPongHandler(func(string) error {
		return st.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := st.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("stream_id", st.id).Msg("Dashboard stream error")
			}
			return
		}
	}
}

func (s *Server) writeLoop(st *stream) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-st.send:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Warn().Err(err).Str("stream_id", st.id).Msg("Failed to write to dashboard stream")
				st.close()
				return
			}
		case <-ticker.C:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				st.close()
				return
			}
		case <-st.done:
			return
		}
	}
}
