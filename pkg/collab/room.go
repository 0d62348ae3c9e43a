package collab

import "sync"

// room is the broadcast unit for one canvas: the set of joined sockets and
// the canvas's operation sequencing.
//
// opMu serializes the whole execute path for the canvas: sequence
// assignment, state mutation, history record and broadcast enqueue all
// happen under it, so every socket observes state_updates in exactly the
// order versions were assigned.
type room struct {
	canvasID string

	mu      sync.RWMutex
	sockets map[string]*Session

	opMu sync.Mutex
	seq  int64
}

func newRoom(canvasID string, seed int64) *room {
	return &room{
		canvasID: canvasID,
		sockets:  make(map[string]*Session),
		seq:      seed,
	}
}

// nextSeq assigns the next sequence number. Caller holds opMu.
func (r *room) nextSeq() int64 {
	r.seq++
	return r.seq
}

func (r *room) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sockets[s.SocketID] = s
}

func (r *room) remove(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sockets, socketID)
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// members returns a snapshot of the joined sessions.
func (r *room) members() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sockets))
	for _, s := range r.sockets {
		out = append(out, s)
	}
	return out
}

// userTabCount counts the user's sessions in this room.
func (r *room) userTabCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sockets {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// pickBootstrapPeer chooses an existing socket to seed a joiner's scene,
// preferring one belonging to the same user. Returns nil when the room has
// no other socket.
func (r *room) pickBootstrapPeer(joinerSocketID, userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var fallback *Session
	for _, s := range r.sockets {
		if s.SocketID == joinerSocketID {
			continue
		}
		if s.UserID == userID {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback
}
