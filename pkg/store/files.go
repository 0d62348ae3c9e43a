package store

import (
	"context"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// FILE METADATA
// ============================================

func (s *GORMStore) GetFile(ctx context.Context, filename string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "filename", filename, models.ErrFileNotFound)
}

// GetFileByHash returns any file row carrying the given content hash.
// Upload dedup checks here before writing bytes to disk.
func (s *GORMStore) GetFileByHash(ctx context.Context, hash string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "hash", hash, models.ErrFileNotFound)
}

func (s *GORMStore) CreateFile(ctx context.Context, file *models.File) error {
	return s.db.WithContext(ctx).Create(file).Error
}

func (s *GORMStore) ListFiles(ctx context.Context) ([]*models.File, error) {
	var results []*models.File
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *GORMStore) DeleteFile(ctx context.Context, filename string) error {
	return deleteByField[models.File](s.db, ctx, "filename", filename, models.ErrFileNotFound)
}

// CountFilesWithHash reports how many rows share a content hash. Cleanup
// must not remove bytes from disk while more than one row references them.
func (s *GORMStore) CountFilesWithHash(ctx context.Context, hash string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("hash = ?", hash).
		Count(&count).Error
	return count, err
}

// UpdateProcessingStatus records the lifecycle of media post-processing
// (thumbnails, transcode) for a file.
func (s *GORMStore) UpdateProcessingStatus(ctx context.Context, filename, status, processingError string) error {
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("filename = ?", filename).
		Updates(map[string]any{
			"processing_status": status,
			"processing_error":  processingError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// UpdateProcessedFormats stores the JSON list of derived artifacts
// (thumbnail sizes, transcoded renditions) available for a file.
func (s *GORMStore) UpdateProcessedFormats(ctx context.Context, filename string, formats []byte) error {
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("filename = ?", filename).
		Update("processed_formats", formats)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}
