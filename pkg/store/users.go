package store

import (
	"context"
	"errors"
	"time"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
}

func (s *GORMStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetOrCreateUser resolves a username to a User, minting a new row with the
// next palette color when the username is unseen. Joins race on first
// contact, so a duplicate insert falls back to a re-read.
func (s *GORMStore) GetOrCreateUser(ctx context.Context, username string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return nil, err
	}

	count, err := s.CountUsers(ctx)
	if err != nil {
		return nil, err
	}

	user = &models.User{
		Username: username,
		Color:    models.ColorForIndex(count),
	}
	if _, err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, models.ErrDuplicateUser) {
			return s.GetUser(ctx, username)
		}
		return nil, err
	}
	return user, nil
}
