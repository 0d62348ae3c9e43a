package store

import (
	"context"
	"fmt"
	"os"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// MAINTENANCE
// ============================================

// TableCounts holds per-table row counts for diagnostics.
type TableCounts struct {
	Users        int64 `json:"users"`
	Canvases     int64 `json:"canvases"`
	Operations   int64 `json:"operations"`
	Files        int64 `json:"files"`
	Sessions     int64 `json:"active_sessions"`
	Transactions int64 `json:"active_transactions"`
	Viewports    int64 `json:"user_viewport_states"`
}

// Counts returns row counts for every table.
func (s *GORMStore) Counts(ctx context.Context) (*TableCounts, error) {
	counts := &TableCounts{}
	for _, c := range []struct {
		model any
		dst   *int64
	}{
		{&models.User{}, &counts.Users},
		{&models.Canvas{}, &counts.Canvases},
		{&models.Operation{}, &counts.Operations},
		{&models.File{}, &counts.Files},
		{&models.ActiveSession{}, &counts.Sessions},
		{&models.ActiveTransaction{}, &counts.Transactions},
		{&models.UserViewportState{}, &counts.Viewports},
	} {
		if err := s.db.WithContext(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// Wipe drops every row from every table in dependency order, inside one
// transaction. Dependent tables go first so a mid-wipe failure never
// leaves orphan rows pointing at deleted parents.
func (s *GORMStore) Wipe(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	for _, m := range []any{
		&models.UserViewportState{},
		&models.ActiveSession{},
		&models.ActiveTransaction{},
		&models.Operation{},
		&models.File{},
		&models.Canvas{},
		&models.User{},
	} {
		if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
			return fmt.Errorf("wipe %T: %w", m, err)
		}
	}

	return tx.Commit().Error
}

// DatabaseSize returns the size in bytes of the backing SQLite file, or 0
// for backends without a single on-disk file.
func (s *GORMStore) DatabaseSize() (int64, error) {
	if s.config.Type != DatabaseTypeSQLite {
		return 0, nil
	}
	info, err := os.Stat(s.config.SQLite.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// ListFilenames returns the set of server filenames currently referenced
// by file rows. The cleanup sweep treats disk files outside this set as
// strays.
func (s *GORMStore) ListFilenames(ctx context.Context) (map[string]struct{}, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&models.File{}).
		Pluck("filename", &names).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}
