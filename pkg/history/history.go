// Package history maintains per-(user, canvas) undo/redo stacks on top of
// the operations table. Stacks live in memory and are rebuilt from the
// table on first access, so a restart loses no undo position.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// Store is the slice of the persistence layer history needs.
type Store interface {
	RecordOperation(ctx context.Context, op *models.Operation) error
	AppendTransactionOp(ctx context.Context, txnID, opID string) error
	GetOperation(ctx context.Context, id string) (*models.Operation, error)
	ListUserOperations(ctx context.Context, canvasID, userID, state string) ([]*models.Operation, error)
	ListCanvasOperations(ctx context.Context, canvasID string) ([]*models.Operation, error)
	MarkUndone(ctx context.Context, opID, byUserID string, at time.Time) error
	MarkRedone(ctx context.Context, opID, byUserID string, at time.Time) error
	ClearCanvasOperations(ctx context.Context, canvasID string) (int64, error)
}

// Sentinel results for empty stacks.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Entry kinds.
const (
	EntrySingle      = "single"
	EntryTransaction = "transaction"
)

// Entry is one undo unit: a single operation or a whole transaction.
type Entry struct {
	Type          string   `json:"type"`
	TransactionID string   `json:"transactionId,omitempty"`
	OperationIDs  []string `json:"operationIds"`
}

// ids returns the operation ids in recorded order.
func (e *Entry) ids() []string {
	return e.OperationIDs
}

type userKey struct {
	userID   string
	canvasID string
}

type stacks struct {
	undo []*Entry
	redo []*Entry
}

// History owns the stacks. All methods are safe for concurrent use; the
// operation rows themselves are written through the store.
type History struct {
	store Store

	mu     sync.Mutex
	loaded map[userKey]*stacks
}

// New creates a History backed by the given store.
func New(st Store) *History {
	return &History{
		store:  st,
		loaded: make(map[userKey]*stacks),
	}
}

// stacksFor returns the in-memory stacks for a pair, rebuilding them from
// the operations table on first access. Caller must hold h.mu.
func (h *History) stacksFor(ctx context.Context, userID, canvasID string) (*stacks, error) {
	key := userKey{userID, canvasID}
	if s, ok := h.loaded[key]; ok {
		return s, nil
	}

	rows, err := h.store.ListUserOperations(ctx, canvasID, userID, "")
	if err != nil {
		return nil, err
	}

	s := rebuildStacks(rows)
	h.loaded[key] = s
	if len(rows) > 0 {
		logger.Debug("undo stacks rebuilt from operations table",
			logger.UserID(userID),
			logger.CanvasID(canvasID),
			logger.UndoCount(len(s.undo)),
			logger.RedoCount(len(s.redo)))
	}
	return s, nil
}

// rebuildStacks reconstructs stack positions from persisted rows (ordered
// by ascending sequence number). Applied rows fill the undo stack in order,
// grouped by transaction. Undone rows form the redo stack; since undo pops
// from the top, the undone rows are a suffix of the sequence order and the
// next redo is the lowest-sequence one, so they are pushed in descending
// order.
func rebuildStacks(rows []*models.Operation) *stacks {
	s := &stacks{}

	appendGrouped := func(dst []*Entry, op *models.Operation) []*Entry {
		if op.TransactionID != nil && *op.TransactionID != "" {
			if n := len(dst); n > 0 && dst[n-1].Type == EntryTransaction && dst[n-1].TransactionID == *op.TransactionID {
				dst[n-1].OperationIDs = append(dst[n-1].OperationIDs, op.ID)
				return dst
			}
			return append(dst, &Entry{
				Type:          EntryTransaction,
				TransactionID: *op.TransactionID,
				OperationIDs:  []string{op.ID},
			})
		}
		return append(dst, &Entry{Type: EntrySingle, OperationIDs: []string{op.ID}})
	}

	var undone []*models.Operation
	for _, op := range rows {
		if op.IsApplied() {
			s.undo = appendGrouped(s.undo, op)
		} else {
			undone = append(undone, op)
		}
	}
	for i := len(undone) - 1; i >= 0; i-- {
		s.redo = appendGrouped(s.redo, undone[i])
	}
	return s
}

// Record persists a newly executed operation and pushes it onto the user's
// undo stack. Consecutive operations sharing a transaction merge into one
// undo unit. Any redo history the user had is discarded.
func (h *History) Record(ctx context.Context, op *models.Operation) error {
	if err := h.store.RecordOperation(ctx, op); err != nil {
		return err
	}
	if op.TransactionID != nil && *op.TransactionID != "" {
		if err := h.store.AppendTransactionOp(ctx, *op.TransactionID, op.ID); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.stacksFor(ctx, op.UserID, op.CanvasID)
	if err != nil {
		return err
	}

	if op.TransactionID != nil && *op.TransactionID != "" {
		if n := len(s.undo); n > 0 && s.undo[n-1].Type == EntryTransaction && s.undo[n-1].TransactionID == *op.TransactionID {
			s.undo[n-1].OperationIDs = append(s.undo[n-1].OperationIDs, op.ID)
		} else {
			s.undo = append(s.undo, &Entry{
				Type:          EntryTransaction,
				TransactionID: *op.TransactionID,
				OperationIDs:  []string{op.ID},
			})
		}
	} else {
		s.undo = append(s.undo, &Entry{Type: EntrySingle, OperationIDs: []string{op.ID}})
	}
	s.redo = nil

	return nil
}

// OpSummary identifies the operation a stack peek points at.
type OpSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UndoState answers the stack queries clients poll for.
type UndoState struct {
	CanUndo   bool       `json:"canUndo"`
	UndoCount int        `json:"undoCount"`
	CanRedo   bool       `json:"canRedo"`
	RedoCount int        `json:"redoCount"`
	NextUndo  *OpSummary `json:"nextUndo,omitempty"`
	NextRedo  *OpSummary `json:"nextRedo,omitempty"`
}

// UserState reports the current stack counts and peeks for a pair.
func (h *History) UserState(ctx context.Context, userID, canvasID string) (*UndoState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.stacksFor(ctx, userID, canvasID)
	if err != nil {
		return nil, err
	}

	state := &UndoState{
		CanUndo:   len(s.undo) > 0,
		UndoCount: len(s.undo),
		CanRedo:   len(s.redo) > 0,
		RedoCount: len(s.redo),
	}
	if n := len(s.undo); n > 0 {
		state.NextUndo = h.summarize(ctx, s.undo[n-1])
	}
	if n := len(s.redo); n > 0 {
		state.NextRedo = h.summarize(ctx, s.redo[n-1])
	}
	return state, nil
}

// summarize peeks the first operation of an entry. A row that has vanished
// (cleared history racing a query) yields nil rather than an error.
func (h *History) summarize(ctx context.Context, e *Entry) *OpSummary {
	if len(e.OperationIDs) == 0 {
		return nil
	}
	op, err := h.store.GetOperation(ctx, e.OperationIDs[0])
	if err != nil {
		return nil
	}
	return &OpSummary{ID: op.ID, Type: op.Type, Timestamp: op.Timestamp}
}

// HistoryEntry is one row of the detailed listing used by debug UIs.
type HistoryEntry struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	UserID         string          `json:"userId"`
	State          string          `json:"state"`
	SequenceNumber int64           `json:"sequenceNumber"`
	TransactionID  string          `json:"transactionId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Params         json.RawMessage `json:"params,omitempty"`
	UndoData       json.RawMessage `json:"undoData,omitempty"`
}

// List returns up to limit recorded operations for a canvas, newest first.
// When showAllUsers is false, only the requesting user's operations are
// included.
func (h *History) List(ctx context.Context, userID, canvasID string, limit int, showAllUsers bool) ([]*HistoryEntry, error) {
	var rows []*models.Operation
	var err error
	if showAllUsers {
		rows, err = h.store.ListCanvasOperations(ctx, canvasID)
	} else {
		rows, err = h.store.ListUserOperations(ctx, canvasID, userID, "")
	}
	if err != nil {
		return nil, err
	}

	entries := make([]*HistoryEntry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if limit > 0 && len(entries) >= limit {
			break
		}
		op := rows[i]
		entry := &HistoryEntry{
			ID:             op.ID,
			Type:           op.Type,
			UserID:         op.UserID,
			State:          op.State,
			SequenceNumber: op.SequenceNumber,
			Timestamp:      op.Timestamp,
			Params:         json.RawMessage(op.Params),
			UndoData:       json.RawMessage(op.UndoData),
		}
		if op.TransactionID != nil {
			entry.TransactionID = *op.TransactionID
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear wipes the entire operation history of a canvas: every user's
// stacks and every operation row. Returns the number of rows removed.
func (h *History) Clear(ctx context.Context, canvasID string) (int64, error) {
	removed, err := h.store.ClearCanvasOperations(ctx, canvasID)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	for key := range h.loaded {
		if key.canvasID == canvasID {
			delete(h.loaded, key)
		}
	}
	h.mu.Unlock()

	logger.Info("operation history cleared",
		logger.CanvasID(canvasID),
		logger.Sequence(removed))
	return removed, nil
}
