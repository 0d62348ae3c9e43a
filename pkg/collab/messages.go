// Package collab implements the realtime collaboration layer: websocket
// sessions, canvas rooms, message dispatch and the ordered broadcast
// pipeline.
package collab

import "encoding/json"

// Envelope is the wire form of every socket message, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ingress events (client → server).
const (
	EventJoinCanvas       = "join_canvas"
	EventLeaveCanvas      = "leave_canvas"
	EventExecuteOperation = "execute_operation"
	EventRequestFullSync  = "request_full_sync"
	EventSyncCheck        = "sync_check"
	EventUndoOperation    = "undo_operation"
	EventRedoOperation    = "redo_operation"
	EventRequestUndoState = "request_undo_state"
	EventGetUndoHistory   = "get_undo_history"
	EventClearUndoHistory = "clear_undo_history"
	EventBeginTransaction = "begin_transaction"
	EventCommitTransaction = "commit_transaction"
	EventAbortTransaction = "abort_transaction"
	EventPing             = "ping"

	// EventCanvasOperation is the legacy submission form; it is translated
	// to the execute_operation path.
	EventCanvasOperation = "canvas_operation"
)

// Egress events (server → client).
const (
	EventCanvasJoined        = "canvas_joined"
	EventActiveUsers         = "active_users"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventTabClosed           = "tab_closed"
	EventStateUpdate         = "state_update"
	EventFullStateSync       = "full_state_sync"
	EventOperationAck        = "operation_ack"
	EventOperationRejected   = "operation_rejected"
	EventUndoStateUpdate     = "undo_state_update"
	EventUndoSuccess         = "undo_success"
	EventRedoSuccess         = "redo_success"
	EventUndoFailed          = "undo_failed"
	EventRedoFailed          = "redo_failed"
	EventRemoteUndo          = "remote_undo"
	EventRemoteRedo          = "remote_redo"
	EventUndoHistory         = "undo_history"
	EventUndoHistoryCleared  = "undo_history_cleared"
	EventTransactionStarted  = "transaction_started"
	EventTransactionCommitted = "transaction_committed"
	EventTransactionAborted  = "transaction_aborted"
	EventPong                = "pong"
	EventSyncResponse        = "sync_response"
	EventError               = "error"
	EventRequestCanvasState  = "request_canvas_state"

	// Media pipeline events, emitted on the room channel.
	EventVideoProcessingStart    = "video_processing_start"
	EventVideoProcessingProgress = "video_processing_progress"
	EventVideoProcessingComplete = "video_processing_complete"
	EventVideoQueueUpdate        = "video_queue_update"
)

// joinPayload attaches a session to a canvas room.
type joinPayload struct {
	CanvasID    string `json:"canvasId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	TabID       string `json:"tabId,omitempty"`
}

// executePayload submits a typed operation. The canvas is the one the
// session joined.
type executePayload struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Params        json.RawMessage `json:"params"`
	UndoData      json.RawMessage `json:"undoData,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
}

// legacyOperationPayload is the canvas_operation wrapper form.
type legacyOperationPayload struct {
	Operation executePayload `json:"operation"`
}

type syncCheckPayload struct {
	LastSequence int64 `json:"lastSequence"`
}

type beginTransactionPayload struct {
	Source string `json:"source,omitempty"`
}

type pingPayload struct {
	Ts int64 `json:"ts,omitempty"`
}

type undoHistoryPayload struct {
	Limit        int  `json:"limit,omitempty"`
	ShowAllUsers bool `json:"showAllUsers,omitempty"`
}

// userPresence is one entry of an active_users broadcast.
type userPresence struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Color       string `json:"color"`
	Tabs        int    `json:"tabs"`
}

// errorPayload is the generic protocol error message.
type errorPayload struct {
	Message string `json:"message"`
}
