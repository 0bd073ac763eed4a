package httpremote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/remote"
)

const (
	frameSnapshot = "snapshot"
	writeWait     = 10 * time.Second
	// readTimeout is how long the stream may stay silent, pings included,
	// before it is treated as dropped.
	readTimeout = 90 * time.Second
)

type streamFrame struct {
	Type      string            `json:"type"`
	Documents []remote.Document `json:"documents"`
}

type stream struct {
	c     *Client
	owner string
	fn    remote.SnapshotFunc

	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

// Subscribe implements remote.Adapter. It opens a websocket to the owner's
// snapshot stream and keeps it open, redialing after a drop, until the
// returned CancelFunc is called. ctx bounds the first dial only.
func (c *Client) Subscribe(ctx context.Context, owner string, fn remote.SnapshotFunc) (remote.CancelFunc, error) {
	conn, err := c.dial(ctx, owner)
	if err != nil {
		return nil, err
	}

	s := &stream{c: c, owner: owner, fn: fn, done: make(chan struct{}), conn: conn}
	go s.run(conn)

	c.logger.Debug("stream subscribed", "owner", owner)
	return s.cancel, nil
}

func (c *Client) dial(ctx context.Context, owner string) (*websocket.Conn, error) {
	token, err := c.tokens.Token(ctx, owner)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, streamURL(c.baseURL, owner), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, domainerrors.RemoteUnavailable(err, "open snapshot stream")
	}
	return conn, nil
}

// cancel is idempotent and never waits for the reader goroutine.
func (s *stream) cancel() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (s *stream) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) run(conn *websocket.Conn) {
	for {
		err := s.read(conn)
		_ = conn.Close()
		if s.cancelled() {
			return
		}
		s.c.logger.Warn("snapshot stream dropped", "owner", s.owner, "error", err)

		conn = s.redial()
		if conn == nil {
			return
		}
	}
}

// read delivers frames from conn until it fails.
func (s *stream) read(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.c.logger.Warn("undecodable stream frame", "owner", s.owner, "error", err)
			continue
		}
		if frame.Type != frameSnapshot {
			continue
		}
		if frame.Documents == nil {
			frame.Documents = []remote.Document{}
		}
		if s.cancelled() {
			return nil
		}
		s.fn(frame.Documents)
	}
}

// redial retries until a connection is open or the stream is cancelled. It
// returns nil once cancelled.
func (s *stream) redial() *websocket.Conn {
	timer := time.NewTimer(s.c.reconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.c.dialer.HandshakeTimeout)
		conn, err := s.c.dial(ctx, s.owner)
		cancel()
		if err != nil {
			s.c.logger.Warn("snapshot stream redial failed", "owner", s.owner, "error", err)
			timer.Reset(s.c.reconnectDelay)
			continue
		}

		s.mu.Lock()
		if s.cancelled() {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.conn = conn
		s.mu.Unlock()

		s.c.logger.Info("snapshot stream reconnected", "owner", s.owner)
		return conn
	}
}

func streamURL(baseURL, owner string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + ownerPath(owner, "stream")
}
