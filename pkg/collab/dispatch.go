package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/history"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// dispatch routes one inbound envelope. Every handler is responsible for
// its own error reporting back to the socket.
func (h *Hub) dispatch(ctx context.Context, s *Session, env *Envelope) {
	switch env.Event {
	case EventJoinCanvas:
		h.handleJoin(ctx, s, env.Data)
	case EventPing:
		h.handlePing(ctx, s, env.Data)
	case EventLeaveCanvas:
		if s.Joined() {
			h.leaveRoom(ctx, s)
		}
	default:
		if !s.Joined() {
			h.deliver(s, EventError, errorPayload{Message: "join a canvas first"})
			return
		}
		h.dispatchJoined(ctx, s, env)
	}
}

func (h *Hub) dispatchJoined(ctx context.Context, s *Session, env *Envelope) {
	switch env.Event {
	case EventExecuteOperation:
		h.handleExecute(ctx, s, env.Data)
	case EventCanvasOperation:
		// Legacy wrapper form: unwrap and run the standard path.
		var legacy legacyOperationPayload
		if err := json.Unmarshal(env.Data, &legacy); err != nil {
			h.deliver(s, EventError, errorPayload{Message: "malformed operation"})
			return
		}
		raw, _ := json.Marshal(legacy.Operation)
		h.handleExecute(ctx, s, raw)
	case EventRequestFullSync:
		h.handleFullSync(ctx, s)
	case EventSyncCheck:
		h.handleSyncCheck(ctx, s, env.Data)
	case EventUndoOperation:
		h.handleUndoRedo(ctx, s, true)
	case EventRedoOperation:
		h.handleUndoRedo(ctx, s, false)
	case EventRequestUndoState:
		h.handleRequestUndoState(ctx, s)
	case EventGetUndoHistory:
		h.handleGetUndoHistory(ctx, s, env.Data)
	case EventClearUndoHistory:
		h.handleClearUndoHistory(ctx, s)
	case EventBeginTransaction:
		h.handleBeginTransaction(ctx, s, env.Data)
	case EventCommitTransaction:
		h.handleCloseTransaction(ctx, s, models.TransactionCommitted)
	case EventAbortTransaction:
		h.handleCloseTransaction(ctx, s, models.TransactionAborted)
	default:
		h.deliver(s, EventError, errorPayload{Message: fmt.Sprintf("unknown event: %s", env.Event)})
	}
}

// ============================================================================
// Join / leave / presence
// ============================================================================

func (h *Hub) handleJoin(ctx context.Context, s *Session, data json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CanvasID == "" || p.Username == "" {
		h.deliver(s, EventError, errorPayload{Message: "join_canvas requires canvasId and username"})
		return
	}
	if s.Joined() {
		h.leaveRoom(ctx, s)
	}

	if _, err := h.store.GetCanvas(ctx, p.CanvasID); err != nil {
		h.deliver(s, EventError, errorPayload{Message: fmt.Sprintf("canvas not found: %s", p.CanvasID)})
		return
	}

	user, err := h.store.GetOrCreateUser(ctx, p.Username)
	if err != nil {
		logger.Error("failed to resolve user",
			logger.Username(p.Username),
			logger.Err(err))
		h.deliver(s, EventError, errorPayload{Message: "failed to resolve user"})
		return
	}

	r, err := h.roomFor(ctx, p.CanvasID)
	if err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to open canvas room"})
		return
	}

	tabID := p.TabID
	if tabID == "" {
		tabID = fmt.Sprintf("tab-%d", time.Now().UnixMilli())
	}

	s.UserID = user.ID
	s.Username = user.Username
	s.DisplayName = p.DisplayName
	s.Color = user.Color
	s.CanvasID = p.CanvasID
	s.TabID = tabID
	s.JoinedAt = time.Now()

	// A peer already in the room can hand the joiner the current scene
	// directly; request_full_sync remains the fallback.
	peer := r.pickBootstrapPeer(s.SocketID, user.ID)

	firstSession := r.userTabCount(user.ID) == 0
	r.add(s)

	h.mu.Lock()
	if h.userSockets[user.ID] == nil {
		h.userSockets[user.ID] = make(map[string]*Session)
	}
	h.userSockets[user.ID][s.SocketID] = s
	h.mu.Unlock()

	// Best-effort mirror row for operators.
	if err := h.store.UpsertSession(ctx, &models.ActiveSession{
		SocketID: s.SocketID,
		UserID:   user.ID,
		CanvasID: p.CanvasID,
		TabID:    tabID,
		JoinedAt: s.JoinedAt,
	}); err != nil {
		logger.Warn("failed to mirror session row", logger.SocketID(s.SocketID), logger.Err(err))
	}

	version, err := h.canvas.Version(ctx, p.CanvasID)
	if err != nil {
		logger.Warn("failed to read state version on join",
			logger.CanvasID(p.CanvasID),
			logger.Err(err))
	}

	h.deliver(s, EventCanvasJoined, map[string]any{
		"canvasId":     p.CanvasID,
		"socketId":     s.SocketID,
		"userId":       user.ID,
		"username":     user.Username,
		"color":        user.Color,
		"tabId":        tabID,
		"stateVersion": version,
	})

	if firstSession {
		h.EmitToCanvas(p.CanvasID, EventUserJoined, map[string]any{
			"userId":      user.ID,
			"username":    user.Username,
			"displayName": p.DisplayName,
			"color":       user.Color,
		})
	}
	h.broadcastActiveUsers(p.CanvasID)

	if peer != nil {
		h.deliver(peer, EventRequestCanvasState, map[string]any{
			"requesterSocketId": s.SocketID,
			"canvasId":          p.CanvasID,
		})
	}

	logger.Info("session joined canvas",
		logger.SocketID(s.SocketID),
		logger.UserID(user.ID),
		logger.Username(user.Username),
		logger.CanvasID(p.CanvasID),
		logger.RoomSize(r.size()))
}

// leaveRoom detaches a joined session and fires the presence events: the
// user's last session fires user_left, intermediate closes fire tab_closed.
func (h *Hub) leaveRoom(ctx context.Context, s *Session) {
	r := h.existingRoom(s.CanvasID)
	if r == nil {
		return
	}

	canvasID, userID := s.CanvasID, s.UserID
	r.remove(s.SocketID)

	h.mu.Lock()
	if set := h.userSockets[userID]; set != nil {
		delete(set, s.SocketID)
		if len(set) == 0 {
			delete(h.userSockets, userID)
		}
	}
	h.mu.Unlock()

	if err := h.store.DeleteSession(ctx, s.SocketID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		logger.Warn("failed to drop session row", logger.SocketID(s.SocketID), logger.Err(err))
	}

	lastSession := r.userTabCount(userID) == 0
	if lastSession {
		h.EmitToCanvas(canvasID, EventUserLeft, map[string]any{
			"userId":   userID,
			"username": s.Username,
		})
	} else {
		h.EmitToCanvas(canvasID, EventTabClosed, map[string]any{
			"userId": userID,
			"tabId":  s.TabID,
		})
	}
	h.broadcastActiveUsers(canvasID)

	logger.Info("session left canvas",
		logger.SocketID(s.SocketID),
		logger.UserID(userID),
		logger.CanvasID(canvasID),
		logger.RoomSize(r.size()))

	s.CanvasID = ""
	s.TabID = ""
}

// broadcastActiveUsers sends the room's presence roster to every socket.
// A user appears once with their tab count.
func (h *Hub) broadcastActiveUsers(canvasID string) {
	r := h.existingRoom(canvasID)
	if r == nil {
		return
	}

	byUser := make(map[string]*userPresence)
	order := []string{}
	for _, member := range r.members() {
		if p, ok := byUser[member.UserID]; ok {
			p.Tabs++
			continue
		}
		byUser[member.UserID] = &userPresence{
			UserID:      member.UserID,
			Username:    member.Username,
			DisplayName: member.DisplayName,
			Color:       member.Color,
			Tabs:        1,
		}
		order = append(order, member.UserID)
	}

	users := make([]*userPresence, 0, len(order))
	for _, id := range order {
		users = append(users, byUser[id])
	}
	h.EmitToCanvas(canvasID, EventActiveUsers, map[string]any{"users": users})
}

// ============================================================================
// Operation execution
// ============================================================================

func (h *Hub) handleExecute(ctx context.Context, s *Session, data json.RawMessage) {
	if len(data) > maxOperationPayload {
		h.deliver(s, EventOperationRejected, map[string]any{
			"error": fmt.Sprintf("Operation too large (%d bytes, limit %d). Upload media over HTTP instead of inlining it.", len(data), maxOperationPayload),
		})
		h.metrics.RecordOperation("unknown", "rejected", 0)
		return
	}

	var p executePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.deliver(s, EventError, errorPayload{Message: "malformed operation"})
		return
	}

	r := h.existingRoom(s.CanvasID)
	if r == nil {
		h.deliver(s, EventError, errorPayload{Message: "room is gone"})
		return
	}

	txnID := h.activeTransaction(s.UserID, s.CanvasID)

	start := time.Now()

	// Whole execute path under the room's operation lock: sequence
	// assignment, state mutation, history record and broadcast enqueue.
	// Socket channels preserve order from here.
	r.opMu.Lock()
	defer r.opMu.Unlock()

	result, err := h.canvas.Execute(ctx, s.CanvasID, &canvas.Operation{
		ID:     p.ID,
		Type:   canvas.OpType(p.Type),
		Params: p.Params,
	})
	if err != nil {
		var verr *canvas.ValidationError
		if errors.As(err, &verr) {
			h.deliver(s, EventOperationRejected, map[string]any{
				"operationId": p.ID,
				"error":       verr.Message,
			})
			h.metrics.RecordOperation(p.Type, "rejected", 0)
			return
		}
		logger.Error("operation failed",
			logger.CanvasID(s.CanvasID),
			logger.OperationID(p.ID),
			logger.Operation(p.Type),
			logger.Err(err))
		h.deliver(s, EventError, errorPayload{Message: "operation failed"})
		h.metrics.RecordOperation(p.Type, "failed", 0)
		return
	}

	seq := r.nextSeq()
	record := &models.Operation{
		ID:             p.ID,
		Type:           p.Type,
		Params:         []byte(p.Params),
		UndoData:       []byte(p.UndoData),
		UserID:         s.UserID,
		CanvasID:       s.CanvasID,
		SequenceNumber: seq,
		Timestamp:      time.Now(),
	}
	if txnID != "" {
		record.TransactionID = &txnID
	}
	if err := h.history.Record(ctx, record); err != nil {
		// The scene already advanced; an unrecorded operation just cannot
		// be undone. Surface it and keep going.
		logger.Error("failed to record operation",
			logger.CanvasID(s.CanvasID),
			logger.OperationID(p.ID),
			logger.Err(err))
	}

	h.metrics.RecordOperation(p.Type, "applied", time.Since(start))

	h.deliver(s, EventOperationAck, map[string]any{
		"operationId":    p.ID,
		"stateVersion":   result.StateVersion,
		"sequenceNumber": seq,
	})
	h.EmitToCanvas(s.CanvasID, EventStateUpdate, map[string]any{
		"operationId":    p.ID,
		"userId":         s.UserID,
		"stateVersion":   result.StateVersion,
		"sequenceNumber": seq,
		"changes":        result.Changes,
	})

	// The submitter's stacks changed (new undo entry, redo cleared).
	if state, err := h.history.UserState(ctx, s.UserID, s.CanvasID); err == nil {
		h.EmitToUser(s.UserID, EventUndoStateUpdate, map[string]any{
			"canvasId":  s.CanvasID,
			"undoState": state,
		})
	}
}

// ============================================================================
// Sync
// ============================================================================

func (h *Hub) handleFullSync(ctx context.Context, s *Session) {
	nodes, version, err := h.canvas.FullState(ctx, s.CanvasID)
	if err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to load canvas state"})
		return
	}
	h.deliver(s, EventFullStateSync, map[string]any{
		"canvasId":     s.CanvasID,
		"nodes":        nodes,
		"stateVersion": version,
	})
}

func (h *Hub) handleSyncCheck(ctx context.Context, s *Session, data json.RawMessage) {
	var p syncCheckPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.deliver(s, EventError, errorPayload{Message: "malformed sync_check"})
		return
	}

	all, err := h.store.ListCanvasOperations(ctx, s.CanvasID)
	if err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to list operations"})
		return
	}

	var newer []map[string]any
	var current int64
	for _, op := range all {
		if op.SequenceNumber > current {
			current = op.SequenceNumber
		}
		if op.SequenceNumber <= p.LastSequence || !op.IsApplied() {
			continue
		}
		newer = append(newer, map[string]any{
			"id":             op.ID,
			"type":           op.Type,
			"params":         json.RawMessage(op.Params),
			"userId":         op.UserID,
			"sequenceNumber": op.SequenceNumber,
		})
	}

	h.deliver(s, EventSyncResponse, map[string]any{
		"canvasId":        s.CanvasID,
		"operations":      newer,
		"currentSequence": current,
	})
}

// ============================================================================
// Undo / redo
// ============================================================================

func (h *Hub) handleUndoRedo(ctx context.Context, s *Session, undo bool) {
	direction, successEvent, failEvent, remoteEvent := "redo", EventRedoSuccess, EventRedoFailed, EventRemoteRedo
	if undo {
		direction, successEvent, failEvent, remoteEvent = "undo", EventUndoSuccess, EventUndoFailed, EventRemoteUndo
	}

	r := h.existingRoom(s.CanvasID)
	if r == nil {
		h.deliver(s, EventError, errorPayload{Message: "room is gone"})
		return
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	var result *history.Result
	var err error
	if undo {
		result, err = h.history.Undo(ctx, h.canvas, s.UserID, s.CanvasID)
	} else {
		result, err = h.history.Redo(ctx, h.canvas, s.UserID, s.CanvasID)
	}
	if err != nil {
		if errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo) {
			h.deliver(s, failEvent, map[string]any{"reason": err.Error()})
			h.metrics.RecordUndoRedo(direction, "empty")
			return
		}
		logger.Error("undo/redo failed",
			logger.CanvasID(s.CanvasID),
			logger.UserID(s.UserID),
			logger.Err(err))
		h.deliver(s, failEvent, map[string]any{"reason": "internal error"})
		h.metrics.RecordUndoRedo(direction, "failed")
		return
	}
	h.metrics.RecordUndoRedo(direction, "applied")

	// Same ordering contract as execute: the state_update goes to every
	// room socket before the next operation starts.
	h.EmitToCanvas(s.CanvasID, EventStateUpdate, map[string]any{
		"userId":       s.UserID,
		"stateVersion": result.StateVersion,
		"changes":      result.Changes,
		"source":       direction,
	})

	h.deliver(s, successEvent, map[string]any{
		"stateVersion": result.StateVersion,
		"operationIds": result.OperationIDs,
		"conflicts":    result.Conflicts,
		"skipped":      result.Skipped,
	})

	// Cross-tab stack sync for the acting user only.
	h.EmitToUser(s.UserID, EventUndoStateUpdate, map[string]any{
		"canvasId":  s.CanvasID,
		"undoState": result.UndoState,
	})

	// Awareness signal for everyone else.
	h.emitToCanvasExceptUser(s.CanvasID, s.UserID, remoteEvent, map[string]any{
		"userId":       s.UserID,
		"username":     s.Username,
		"operationIds": result.OperationIDs,
	})
}

func (h *Hub) handleRequestUndoState(ctx context.Context, s *Session) {
	state, err := h.history.UserState(ctx, s.UserID, s.CanvasID)
	if err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to read undo state"})
		return
	}
	h.EmitToUser(s.UserID, EventUndoStateUpdate, map[string]any{
		"canvasId":  s.CanvasID,
		"undoState": state,
	})
}

func (h *Hub) handleGetUndoHistory(ctx context.Context, s *Session, data json.RawMessage) {
	p := undoHistoryPayload{Limit: 50}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			h.deliver(s, EventError, errorPayload{Message: "malformed get_undo_history"})
			return
		}
	}

	entries, err := h.history.List(ctx, s.UserID, s.CanvasID, p.Limit, p.ShowAllUsers)
	if err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to list history"})
		return
	}
	h.deliver(s, EventUndoHistory, map[string]any{
		"canvasId":   s.CanvasID,
		"operations": entries,
	})
}

func (h *Hub) handleClearUndoHistory(ctx context.Context, s *Session) {
	removed, err := h.history.Clear(ctx, s.CanvasID)
	if err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to clear history"})
		return
	}

	empty := &history.UndoState{}
	h.EmitToCanvas(s.CanvasID, EventUndoStateUpdate, map[string]any{
		"canvasId":  s.CanvasID,
		"cleared":   true,
		"undoState": empty,
	})
	h.EmitToCanvas(s.CanvasID, EventUndoHistoryCleared, map[string]any{
		"canvasId": s.CanvasID,
		"removed":  removed,
	})
}

// ============================================================================
// Transactions
// ============================================================================

func (h *Hub) activeTransaction(userID, canvasID string) string {
	h.txnMu.Lock()
	defer h.txnMu.Unlock()
	return h.transactions[[2]string{userID, canvasID}]
}

func (h *Hub) handleBeginTransaction(ctx context.Context, s *Session, data json.RawMessage) {
	var p beginTransactionPayload
	if len(data) > 0 {
		json.Unmarshal(data, &p)
	}

	txnID, err := h.store.BeginTransaction(ctx, &models.ActiveTransaction{
		UserID:   s.UserID,
		CanvasID: s.CanvasID,
		Source:   p.Source,
	})
	if err != nil {
		if errors.Is(err, models.ErrTransactionActive) {
			h.deliver(s, EventError, errorPayload{Message: "a transaction is already active"})
			return
		}
		h.deliver(s, EventError, errorPayload{Message: "failed to begin transaction"})
		return
	}

	h.txnMu.Lock()
	h.transactions[[2]string{s.UserID, s.CanvasID}] = txnID
	h.txnMu.Unlock()

	h.EmitToUser(s.UserID, EventTransactionStarted, map[string]any{
		"transactionId": txnID,
		"canvasId":      s.CanvasID,
		"source":        p.Source,
	})

	logger.Debug("transaction started",
		logger.Transaction(txnID),
		logger.UserID(s.UserID),
		logger.CanvasID(s.CanvasID))
}

// handleCloseTransaction commits or aborts the user's active transaction.
// Abort closes the bundle only; operations already applied stay applied
// and remain individually undoable.
func (h *Hub) handleCloseTransaction(ctx context.Context, s *Session, state string) {
	key := [2]string{s.UserID, s.CanvasID}

	h.txnMu.Lock()
	txnID := h.transactions[key]
	delete(h.transactions, key)
	h.txnMu.Unlock()

	if txnID == "" {
		h.deliver(s, EventError, errorPayload{Message: "no active transaction"})
		return
	}

	if err := h.store.CloseTransaction(ctx, txnID, state); err != nil {
		h.deliver(s, EventError, errorPayload{Message: "failed to close transaction"})
		return
	}

	event := EventTransactionCommitted
	if state == models.TransactionAborted {
		event = EventTransactionAborted
	}
	h.EmitToUser(s.UserID, event, map[string]any{
		"transactionId": txnID,
		"canvasId":      s.CanvasID,
	})

	logger.Debug("transaction closed",
		logger.Transaction(txnID),
		logger.UserID(s.UserID),
		logger.Event(event))
}

// ============================================================================
// Heartbeat
// ============================================================================

func (h *Hub) handlePing(ctx context.Context, s *Session, data json.RawMessage) {
	var p pingPayload
	if len(data) > 0 {
		json.Unmarshal(data, &p)
	}
	if s.Joined() {
		if err := h.store.TouchSession(ctx, s.SocketID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
			logger.Debug("failed to touch session", logger.SocketID(s.SocketID), logger.Err(err))
		}
	}
	h.deliver(s, EventPong, map[string]any{
		"ts":       p.Ts,
		"serverTs": time.Now().UnixMilli(),
	})
}
