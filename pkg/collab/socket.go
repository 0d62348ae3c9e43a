package collab

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabcanvas/canvasd/internal/logger"
)

const (
	// maxOperationPayload is the ceiling for execute_operation payloads.
	// It keeps inline data-URL media off the socket channel; large content
	// goes through the HTTP upload path.
	maxOperationPayload = 100 * 1024

	// maxMessageSize bounds any single socket frame.
	maxMessageSize = 1 << 20

	// pingPeriod is how often the server pings each socket; pongWait is
	// how long it tolerates silence before closing.
	pingPeriod = 30 * time.Second
	pongWait   = 5 * time.Minute

	writeWait = 10 * time.Second

	// sendBuffer is the per-socket outbound queue. A socket that cannot
	// drain this many messages is considered dead and dropped.
	sendBuffer = 256
)

// socket wraps one websocket connection. Outbound messages go through a
// buffered channel drained by a single writer goroutine, which gives every
// socket FIFO delivery without cross-socket blocking.
type socket struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newSocket(id string, conn *websocket.Conn) *socket {
	return &socket{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues an envelope for delivery. Returns false when the socket's
// buffer is full or the socket is closed; the caller treats that as a dead
// peer.
func (s *socket) enqueue(event string, data any) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal outbound message",
			logger.SocketID(s.id),
			logger.Event(event),
			logger.Err(err))
		return true
	}
	raw, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return true
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- raw:
		return true
	default:
		logger.Warn("socket send buffer full, dropping connection",
			logger.SocketID(s.id),
			logger.Event(event))
		return false
	}
}

// close makes enqueue fail fast and wakes the writer so it can exit.
// Idempotent.
func (s *socket) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// writePump drains the send channel onto the connection and keeps the
// heartbeat going. It owns all writes to the connection.
func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// readPump reads envelopes off the connection and hands them to the
// handler. It returns when the peer disconnects or misbehaves.
func (s *socket) readPump(handle func(*Envelope)) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("socket read error",
					logger.SocketID(s.id),
					logger.Err(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.enqueue(EventError, errorPayload{Message: "malformed message"})
			continue
		}
		if env.Event == "" {
			s.enqueue(EventError, errorPayload{Message: "missing event name"})
			continue
		}
		handle(&env)
	}
}
