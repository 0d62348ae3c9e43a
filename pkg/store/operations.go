package store

import (
	"context"
	"time"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// OPERATION LOG
// ============================================

func (s *GORMStore) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	return getByField[models.Operation](s.db, ctx, "id", id, models.ErrOperationNotFound)
}

func (s *GORMStore) RecordOperation(ctx context.Context, op *models.Operation) error {
	if op.State == "" {
		op.State = models.OperationApplied
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(op).Error
}

// ListCanvasOperations returns every recorded operation for a canvas in
// sequence order. Used to rebuild undo/redo stacks after a restart.
func (s *GORMStore) ListCanvasOperations(ctx context.Context, canvasID string) ([]*models.Operation, error) {
	return listByField[models.Operation](s.db, ctx, "canvas_id", canvasID, "sequence_number ASC")
}

// ListUserOperations returns a user's operations on a canvas in sequence
// order, optionally filtered by state ("" means all states).
func (s *GORMStore) ListUserOperations(ctx context.Context, canvasID, userID, state string) ([]*models.Operation, error) {
	var results []*models.Operation
	q := s.db.WithContext(ctx).
		Where("canvas_id = ? AND user_id = ?", canvasID, userID)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if err := q.Order("sequence_number ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// MarkUndone flips an operation to undone and stamps who did it.
func (s *GORMStore) MarkUndone(ctx context.Context, opID, byUserID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Operation{}).
		Where("id = ?", opID).
		Updates(map[string]any{
			"state":     models.OperationUndone,
			"undone_at": at,
			"undone_by": byUserID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrOperationNotFound
	}
	return nil
}

// MarkRedone flips an operation back to applied and stamps who did it.
func (s *GORMStore) MarkRedone(ctx context.Context, opID, byUserID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Operation{}).
		Where("id = ?", opID).
		Updates(map[string]any{
			"state":     models.OperationApplied,
			"redone_at": at,
			"redone_by": byUserID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrOperationNotFound
	}
	return nil
}

// ClearCanvasOperations deletes every operation row for a canvas. Returns
// the number of rows removed.
func (s *GORMStore) ClearCanvasOperations(ctx context.Context, canvasID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("canvas_id = ?", canvasID).
		Delete(&models.Operation{})
	return result.RowsAffected, result.Error
}

// ListRecentOperations returns every operation recorded after the given
// time, across all canvases. Used by the media sweep to protect files
// referenced by in-flight work.
func (s *GORMStore) ListRecentOperations(ctx context.Context, since time.Time) ([]*models.Operation, error) {
	var ops []*models.Operation
	err := s.db.WithContext(ctx).
		Where("timestamp > ?", since).
		Find(&ops).Error
	return ops, err
}

// MaxSequenceNumber returns the highest sequence number recorded for a
// canvas, or 0 when the canvas has no operations.
func (s *GORMStore) MaxSequenceNumber(ctx context.Context, canvasID string) (int64, error) {
	var max *int64
	err := s.db.WithContext(ctx).
		Model(&models.Operation{}).
		Where("canvas_id = ?", canvasID).
		Select("MAX(sequence_number)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
