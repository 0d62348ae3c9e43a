package collab

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/history"
	"github.com/collabcanvas/canvasd/pkg/metrics"
	"github.com/collabcanvas/canvasd/pkg/store"
)

// Hub owns every live session and room and dispatches socket messages to
// the state manager, history and media pipeline.
//
// The three registries (sessions, userSockets, rooms) are guarded by one
// RWMutex; reads vastly outnumber writes since every broadcast walks them.
type Hub struct {
	store   *store.GORMStore
	canvas  *canvas.Manager
	history *history.History
	metrics *metrics.CanvasMetrics

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	sessions    map[string]*Session            // socketID → session
	userSockets map[string]map[string]*Session // userID → socketID → session
	rooms       map[string]*room               // canvasID → room

	txnMu sync.Mutex
	// active transaction id per (userID, canvasID)
	transactions map[[2]string]string
}

// NewHub creates the collaboration hub.
func NewHub(st *store.GORMStore, cm *canvas.Manager, h *history.History, m *metrics.CanvasMetrics) *Hub {
	return &Hub{
		store:   st,
		canvas:  cm,
		history: h,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin is policed by the HTTP CORS layer; the socket
			// endpoint accepts any origin the router let through.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions:     make(map[string]*Session),
		userSockets:  make(map[string]map[string]*Session),
		rooms:        make(map[string]*room),
		transactions: make(map[[2]string]string),
	}
}

// ServeHTTP upgrades the connection and runs the session until the peer
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			logger.ClientIP(r.RemoteAddr),
			logger.Err(err))
		return
	}

	socketID := uuid.New().String()
	sock := newSocket(socketID, conn)
	session := &Session{SocketID: socketID, sock: sock}

	h.mu.Lock()
	h.sessions[socketID] = session
	total := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetActiveSessions(total)

	logger.Debug("socket connected",
		logger.SocketID(socketID),
		logger.ClientIP(r.RemoteAddr))

	go sock.writePump()
	sock.readPump(func(env *Envelope) {
		h.dispatch(r.Context(), session, env)
	})

	// Read loop ended: the peer is gone.
	h.disconnect(context.Background(), session)
}

// disconnect tears a session down: leaves its room (firing user_left or
// tab_closed), closes any active transaction bookkeeping for its socket and
// drops it from the registries.
func (h *Hub) disconnect(ctx context.Context, s *Session) {
	if s.Joined() {
		h.leaveRoom(ctx, s)
	}

	h.mu.Lock()
	delete(h.sessions, s.SocketID)
	total := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetActiveSessions(total)

	s.sock.close()
	logger.Debug("socket disconnected", logger.SocketID(s.SocketID))
}

// roomFor returns the canvas's room, creating it with a sequence seed from
// the operations table on first use.
func (h *Hub) roomFor(ctx context.Context, canvasID string) (*room, error) {
	h.mu.RLock()
	r, ok := h.rooms[canvasID]
	h.mu.RUnlock()
	if ok {
		return r, nil
	}

	seed, err := h.store.MaxSequenceNumber(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[canvasID]; ok {
		return r, nil
	}
	r = newRoom(canvasID, seed)
	h.rooms[canvasID] = r
	h.metrics.SetActiveRooms(len(h.rooms))
	return r, nil
}

// existingRoom returns the room if it is live, without creating it.
func (h *Hub) existingRoom(canvasID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[canvasID]
}

// ============================================================================
// Emit surface
// ============================================================================

// EmitToSocket sends one event to one socket.
func (h *Hub) EmitToSocket(socketID, event string, data any) {
	h.mu.RLock()
	s, ok := h.sessions[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(s, event, data)
}

// EmitToUser sends one event to every socket of a user (cross-tab sync).
func (h *Hub) EmitToUser(userID, event string, data any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.userSockets[userID]))
	for _, s := range h.userSockets[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		h.deliver(s, event, data)
	}
	h.metrics.RecordBroadcast(event, len(targets))
}

// EmitToCanvas sends one event to every socket in a canvas room, minus any
// excluded socket ids.
func (h *Hub) EmitToCanvas(canvasID, event string, data any, except ...string) {
	r := h.existingRoom(canvasID)
	if r == nil {
		return
	}

	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	members := r.members()
	delivered := 0
	for _, s := range members {
		if skip[s.SocketID] {
			continue
		}
		h.deliver(s, event, data)
		delivered++
	}
	h.metrics.RecordBroadcast(event, delivered)
}

// emitToCanvasExceptUser sends to every room socket not belonging to the
// given user (the remote_undo/remote_redo awareness pattern).
func (h *Hub) emitToCanvasExceptUser(canvasID, userID, event string, data any) {
	r := h.existingRoom(canvasID)
	if r == nil {
		return
	}
	delivered := 0
	for _, s := range r.members() {
		if s.UserID == userID {
			continue
		}
		h.deliver(s, event, data)
		delivered++
	}
	h.metrics.RecordBroadcast(event, delivered)
}

// deliver enqueues on the session's socket; a full buffer means a dead
// peer, which gets torn down out of band.
func (h *Hub) deliver(s *Session, event string, data any) {
	if !s.sock.enqueue(event, data) {
		go h.disconnect(context.Background(), s)
	}
}

// SessionCount returns the number of connected sockets.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Shutdown closes every socket. In-flight operations finish because the
// per-canvas critical sections complete before the process exits.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.sock.close()
	}
	logger.Info("collaboration hub shut down", logger.Sessions(len(sessions)))
}
