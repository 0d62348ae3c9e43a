package store

import (
	"context"
	"time"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// SESSION MIRROR
// ============================================
//
// The collaboration hub owns the live session registry in memory; these
// rows are a best-effort write-through so operators can inspect who is
// connected without attaching to the process.

func (s *GORMStore) UpsertSession(ctx context.Context, session *models.ActiveSession) error {
	if session.JoinedAt.IsZero() {
		session.JoinedAt = time.Now()
	}
	session.LastPing = time.Now()
	return s.db.WithContext(ctx).Save(session).Error
}

func (s *GORMStore) TouchSession(ctx context.Context, socketID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.ActiveSession{}).
		Where("socket_id = ?", socketID).
		Update("last_ping", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *GORMStore) DeleteSession(ctx context.Context, socketID string) error {
	return deleteByField[models.ActiveSession](s.db, ctx, "socket_id", socketID, models.ErrSessionNotFound)
}

func (s *GORMStore) ListCanvasSessions(ctx context.Context, canvasID string) ([]*models.ActiveSession, error) {
	return listByField[models.ActiveSession](s.db, ctx, "canvas_id", canvasID, "joined_at ASC")
}
