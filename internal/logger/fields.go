package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by canvas, user, or socket.
const (
	// ========================================================================
	// Collaboration
	// ========================================================================
	KeyCanvasID  = "canvas_id"  // Canvas the event relates to
	KeyUserID    = "user_id"    // Acting user
	KeyUsername  = "username"   // Acting user's name
	KeySocketID  = "socket_id"  // Websocket session identifier
	KeyTabID     = "tab_id"     // Client tab identifier
	KeyEvent     = "event"      // Ingress/egress event name
	KeyRoomSize  = "room_size"  // Number of sockets in a room
	KeySessions  = "sessions"   // Number of sessions for a user
	KeyRecipient = "recipient"  // Broadcast recipient scope (room, user, others)

	// ========================================================================
	// Operations & State
	// ========================================================================
	KeyOperationID  = "operation_id"  // Client-supplied operation id
	KeyOperation    = "operation"     // Operation type (node_create, node_move, ...)
	KeySequence     = "sequence"      // Server-assigned sequence number
	KeyStateVersion = "state_version" // Canvas state version after apply
	KeyTransaction  = "transaction"   // Transaction id
	KeyNodeID       = "node_id"       // Scene node id
	KeyNodeCount    = "node_count"    // Number of nodes touched
	KeyUndoCount    = "undo_count"    // Undo stack depth
	KeyRedoCount    = "redo_count"    // Redo stack depth

	// ========================================================================
	// Media pipeline
	// ========================================================================
	KeyFilename = "filename" // Server-assigned filename
	KeyHash     = "hash"     // Content SHA-256
	KeyMimeType = "mime_type"
	KeySize     = "size"    // Byte size
	KeyFormat   = "format"  // Transcode output format (webm, mp4)
	KeyPercent  = "percent" // Transcode progress percentage
	KeyQueue    = "queue"   // Transcode queue depth

	// ========================================================================
	// Client identification
	// ========================================================================
	KeyClientIP  = "client_ip"
	KeyRequestID = "request_id"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeySource     = "source"
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// CanvasID returns a slog.Attr for a canvas identifier.
func CanvasID(id string) slog.Attr {
	return slog.String(KeyCanvasID, id)
}

// UserID returns a slog.Attr for the acting user.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Username returns a slog.Attr for the acting user's name.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// SocketID returns a slog.Attr for a websocket session identifier.
func SocketID(id string) slog.Attr {
	return slog.String(KeySocketID, id)
}

// Event returns a slog.Attr for an ingress/egress event name.
func Event(name string) slog.Attr {
	return slog.String(KeyEvent, name)
}

// OperationID returns a slog.Attr for a client-supplied operation id.
func OperationID(id string) slog.Attr {
	return slog.String(KeyOperationID, id)
}

// Operation returns a slog.Attr for an operation type.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Sequence returns a slog.Attr for a server-assigned sequence number.
func Sequence(n int64) slog.Attr {
	return slog.Int64(KeySequence, n)
}

// StateVersion returns a slog.Attr for a canvas state version.
func StateVersion(v int64) slog.Attr {
	return slog.Int64(KeyStateVersion, v)
}

// Transaction returns a slog.Attr for a transaction id.
func Transaction(id string) slog.Attr {
	return slog.String(KeyTransaction, id)
}

// NodeID returns a slog.Attr for a scene node id.
func NodeID(id int64) slog.Attr {
	return slog.Int64(KeyNodeID, id)
}

// Sessions returns a slog.Attr for a number of live sessions.
func Sessions(n int) slog.Attr {
	return slog.Int(KeySessions, n)
}

// RoomSize returns a slog.Attr for the number of sockets in a room.
func RoomSize(n int) slog.Attr {
	return slog.Int(KeyRoomSize, n)
}

// UndoCount returns a slog.Attr for an undo stack depth.
func UndoCount(n int) slog.Attr {
	return slog.Int(KeyUndoCount, n)
}

// RedoCount returns a slog.Attr for a redo stack depth.
func RedoCount(n int) slog.Attr {
	return slog.Int(KeyRedoCount, n)
}

// NodeCount returns a slog.Attr for a number of scene nodes.
func NodeCount(n int) slog.Attr {
	return slog.Int(KeyNodeCount, n)
}

// Filename returns a slog.Attr for a server-assigned filename.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Hash returns a slog.Attr for a content SHA-256.
func Hash(h string) slog.Attr {
	return slog.String(KeyHash, h)
}

// Size returns a slog.Attr for a byte size.
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// Format returns a slog.Attr for a transcode output format.
func Format(f string) slog.Attr {
	return slog.String(KeyFormat, f)
}

// Queue returns a slog.Attr for a transcode queue depth.
func Queue(n int) slog.Attr {
	return slog.Int(KeyQueue, n)
}

// ClientIP returns a slog.Attr for a client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Source returns a slog.Attr for a data source.
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}
