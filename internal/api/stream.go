package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/shelfieapp/shelfie/internal/remote"
)

const (
	streamWriteWait = 10 * time.Second
	streamReadLimit = 512
)

// StreamFrame is one websocket text frame of the snapshot stream.
type StreamFrame struct {
	Type      string            `json:"type"`
	Documents []remote.Document `json:"documents"`
}

// FrameSnapshot is the type of a frame carrying a full owner snapshot.
const FrameSnapshot = "snapshot"

// handleStream upgrades to a websocket and pushes a snapshot frame for the
// owner's documents initially and after every change. Slow readers only ever
// get the latest snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if _, err := s.authorize(r.Context(), owner); err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "user_id", owner, "error", err)
		return
	}
	defer conn.Close()

	frames := make(chan []byte, 1)
	cancel, err := s.docs.Subscribe(r.Context(), owner, func(docs []remote.Document) {
		data, err := json.Marshal(StreamFrame{Type: FrameSnapshot, Documents: docs})
		if err != nil {
			s.logger.Error("encode snapshot frame", "user_id", owner, "error", err)
			return
		}
		offerLatest(frames, data)
	})
	if err != nil {
		s.logger.Warn("stream subscribe failed", "user_id", owner, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(streamWriteWait))
		return
	}
	defer cancel()

	s.logger.Info("stream opened", "user_id", owner)
	defer s.logger.Info("stream closed", "user_id", owner)

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	for {
		select {
		case data := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// readPump discards client frames and closes closed when the peer goes away
// or stops answering pings.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	pongWait := 2 * s.ping
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// offerLatest puts data in ch, replacing a frame that is still waiting.
// There is a single producer per channel.
func offerLatest(ch chan []byte, data []byte) {
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
