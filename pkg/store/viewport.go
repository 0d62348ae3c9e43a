package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// VIEWPORT STATE
// ============================================

func (s *GORMStore) GetViewport(ctx context.Context, userID, canvasID string) (*models.UserViewportState, error) {
	var state models.UserViewportState
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND canvas_id = ?", userID, canvasID).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrViewportNotFound
		}
		return nil, err
	}
	return &state, nil
}

func (s *GORMStore) SaveViewport(ctx context.Context, state *models.UserViewportState) error {
	state.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(state).Error
}
