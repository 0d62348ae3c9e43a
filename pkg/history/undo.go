package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// Result is the outcome of one undo or redo.
type Result struct {
	StateVersion int64             `json:"stateVersion"`
	Changes      *canvas.ChangeSet `json:"changes"`
	OperationIDs []string          `json:"operationIds"`
	Conflicts    []string          `json:"conflicts,omitempty"`
	Skipped      []string          `json:"skipped,omitempty"`
	UndoState    *UndoState        `json:"undoState"`
}

// Undo reverts the user's most recent undo unit (a single operation or a
// whole transaction) through the canvas manager. Conflicting later edits by
// other users are reported but never block the undo.
func (h *History) Undo(ctx context.Context, cm *canvas.Manager, userID, canvasID string) (*Result, error) {
	h.mu.Lock()
	s, err := h.stacksFor(ctx, userID, canvasID)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if len(s.undo) == 0 {
		h.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	entry := s.undo[len(s.undo)-1]
	h.mu.Unlock()

	rows, err := h.loadRows(ctx, entry.ids())
	if err != nil {
		return nil, err
	}

	conflicts, err := h.findConflicts(ctx, canvasID, rows)
	if err != nil {
		logger.Warn("conflict scan failed, proceeding with undo",
			logger.CanvasID(canvasID),
			logger.Err(err))
	}

	res, skipped, err := cm.ApplyInverse(ctx, canvasID, toCanvasOps(rows))
	if err != nil {
		return nil, err
	}

	// The inverses are applied from here on, so the entry moves to the redo
	// stack even when marking rows fails below: a retried undo must target
	// the previous entry, not re-apply these inverses.
	h.mu.Lock()
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, entry)
	h.mu.Unlock()

	now := time.Now()
	for _, row := range rows {
		if err := h.store.MarkUndone(ctx, row.ID, userID, now); err != nil {
			return nil, fmt.Errorf("failed to mark operation %s undone: %w", row.ID, err)
		}
	}

	state, err := h.UserState(ctx, userID, canvasID)
	if err != nil {
		return nil, err
	}

	return &Result{
		StateVersion: res.StateVersion,
		Changes:      res.Changes,
		OperationIDs: entry.ids(),
		Conflicts:    conflicts,
		Skipped:      skipped,
		UndoState:    state,
	}, nil
}

// Redo re-applies the user's most recently undone unit in its original
// order.
func (h *History) Redo(ctx context.Context, cm *canvas.Manager, userID, canvasID string) (*Result, error) {
	h.mu.Lock()
	s, err := h.stacksFor(ctx, userID, canvasID)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if len(s.redo) == 0 {
		h.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	entry := s.redo[len(s.redo)-1]
	h.mu.Unlock()

	rows, err := h.loadRows(ctx, entry.ids())
	if err != nil {
		return nil, err
	}

	res, err := cm.Reapply(ctx, canvasID, toCanvasOps(rows))
	if err != nil {
		return nil, err
	}

	// Mirror of Undo: once the operations are re-applied the entry moves
	// back to the undo stack regardless of marking failures.
	h.mu.Lock()
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, entry)
	h.mu.Unlock()

	now := time.Now()
	for _, row := range rows {
		if err := h.store.MarkRedone(ctx, row.ID, userID, now); err != nil {
			return nil, fmt.Errorf("failed to mark operation %s redone: %w", row.ID, err)
		}
	}

	state, err := h.UserState(ctx, userID, canvasID)
	if err != nil {
		return nil, err
	}

	return &Result{
		StateVersion: res.StateVersion,
		Changes:      res.Changes,
		OperationIDs: entry.ids(),
		UndoState:    state,
	}, nil
}

func (h *History) loadRows(ctx context.Context, ids []string) ([]*models.Operation, error) {
	rows := make([]*models.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := h.store.GetOperation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", id, err)
		}
		rows = append(rows, op)
	}
	return rows, nil
}

func toCanvasOps(rows []*models.Operation) []*canvas.Operation {
	ops := make([]*canvas.Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, &canvas.Operation{
			ID:       row.ID,
			Type:     canvas.OpType(row.Type),
			Params:   json.RawMessage(row.Params),
			UndoData: json.RawMessage(row.UndoData),
		})
	}
	return ops
}

// findConflicts reports still-applied operations with a later sequence
// number that touch any node the undo candidates touch.
func (h *History) findConflicts(ctx context.Context, canvasID string, candidates []*models.Operation) ([]string, error) {
	targets := make(map[int64]bool)
	var minSeq int64 = -1
	candidateIDs := make(map[string]bool, len(candidates))
	for _, op := range candidates {
		candidateIDs[op.ID] = true
		if minSeq < 0 || op.SequenceNumber < minSeq {
			minSeq = op.SequenceNumber
		}
		for _, id := range canvas.TargetIDs(canvas.OpType(op.Type), json.RawMessage(op.Params)) {
			targets[id] = true
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	all, err := h.store.ListCanvasOperations(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	var conflicts []string
	for _, op := range all {
		if op.SequenceNumber <= minSeq || candidateIDs[op.ID] || !op.IsApplied() {
			continue
		}
		for _, id := range canvas.TargetIDs(canvas.OpType(op.Type), json.RawMessage(op.Params)) {
			if targets[id] {
				conflicts = append(conflicts, op.ID)
				break
			}
		}
	}
	return conflicts, nil
}
