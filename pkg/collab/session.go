package collab

import "time"

// Session is one live connection: one tab of one user joined to one canvas.
// A session that has not joined yet has empty UserID/CanvasID and may only
// send join_canvas and ping.
type Session struct {
	SocketID    string
	UserID      string
	Username    string
	DisplayName string
	Color       string
	CanvasID    string
	TabID       string
	JoinedAt    time.Time

	sock *socket
}

// Joined reports whether the session has attached to a canvas.
func (s *Session) Joined() bool {
	return s.CanvasID != ""
}
