package store

import (
	"context"
	"time"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// CANVAS OPERATIONS
// ============================================

func (s *GORMStore) GetCanvas(ctx context.Context, id string) (*models.Canvas, error) {
	return getByField[models.Canvas](s.db, ctx, "id", id, models.ErrCanvasNotFound)
}

func (s *GORMStore) ListCanvases(ctx context.Context) ([]*models.Canvas, error) {
	var results []*models.Canvas
	if err := s.db.WithContext(ctx).Order("last_modified DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *GORMStore) CreateCanvas(ctx context.Context, canvas *models.Canvas) (string, error) {
	canvas.LastModified = time.Now()
	return createWithID(s.db, ctx, canvas, func(c *models.Canvas, id string) { c.ID = id }, canvas.ID, models.ErrDuplicateCanvas)
}

func (s *GORMStore) UpdateCanvasMeta(ctx context.Context, id, name, description string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Canvas{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":          name,
			"description":   description,
			"last_modified": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrCanvasNotFound
	}
	return nil
}

// SaveCanvasData rewrites the serialized scene blob for a canvas. Called
// after every successful operation, so the blob is always a full snapshot
// of current state.
func (s *GORMStore) SaveCanvasData(ctx context.Context, id string, data []byte) error {
	result := s.db.WithContext(ctx).
		Model(&models.Canvas{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"canvas_data":   data,
			"last_modified": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrCanvasNotFound
	}
	return nil
}

// DeleteCanvas removes a canvas and everything keyed to it: operations,
// transactions, viewport rows and session mirrors.
func (s *GORMStore) DeleteCanvas(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	result := tx.Where("id = ?", id).Delete(&models.Canvas{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrCanvasNotFound
	}

	for _, m := range []any{
		&models.Operation{},
		&models.ActiveTransaction{},
		&models.ActiveSession{},
		&models.UserViewportState{},
	} {
		if err := tx.Where("canvas_id = ?", id).Delete(m).Error; err != nil {
			return err
		}
	}

	return tx.Commit().Error
}
