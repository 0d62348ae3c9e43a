//go:build integration

package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

func createUploadFixture(t *testing.T) (*Pipeline, *store.GORMStore, string) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	uploadsDir := t.TempDir()
	thumbs := NewThumbnailer("ffmpeg", "ffprobe", t.TempDir())
	return NewPipeline(uploadsDir, "ffprobe", st, thumbs, nil, nil, nil), st, uploadsDir
}

func TestUploadDedup(t *testing.T) {
	ctx := context.Background()

	t.Run("known hash reuses the existing upload", func(t *testing.T) {
		p, st, dir := createUploadFixture(t)

		existing := "1700000000000-ab12cd.png"
		require.NoError(t, os.WriteFile(filepath.Join(dir, existing), []byte("pixels"), 0o644))
		require.NoError(t, st.CreateFile(ctx, &models.File{
			Filename: existing,
			MimeType: "image/png",
			Size:     6,
			Hash:     "cafe01",
		}))

		res, err := p.Upload(ctx, &UploadRequest{
			OriginalName: "copy.png",
			MimeType:     "image/png",
			Size:         6,
			Content:      bytes.NewReader([]byte("pixels")),
			Hash:         "cafe01",
			UserID:       "user-1",
		})
		require.NoError(t, err)
		assert.Equal(t, existing, res.ServerFilename)
		assert.Equal(t, "/uploads/"+existing, res.URL)
		assert.Equal(t, "cafe01", res.Hash)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no second copy is written")
	})

	t.Run("known hash with missing bytes falls through to a fresh write", func(t *testing.T) {
		p, st, dir := createUploadFixture(t)

		require.NoError(t, st.CreateFile(ctx, &models.File{
			Filename: "1700000000001-gone00.png",
			MimeType: "image/png",
			Size:     6,
			Hash:     "cafe02",
		}))

		res, err := p.Upload(ctx, &UploadRequest{
			OriginalName: "again.png",
			MimeType:     "image/png",
			Size:         6,
			Content:      bytes.NewReader([]byte("pixels")),
			Hash:         "cafe02",
			UserID:       "user-1",
		})
		require.NoError(t, err)
		assert.NotEqual(t, "1700000000001-gone00.png", res.ServerFilename)

		_, err = os.Stat(filepath.Join(dir, res.ServerFilename))
		assert.NoError(t, err)
	})

	t.Run("unknown hash writes normally", func(t *testing.T) {
		p, st, dir := createUploadFixture(t)

		res, err := p.Upload(ctx, &UploadRequest{
			OriginalName: "fresh.png",
			MimeType:     "image/png",
			Size:         6,
			Content:      bytes.NewReader([]byte("pixels")),
			Hash:         "cafe03",
			UserID:       "user-1",
		})
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(dir, res.ServerFilename))
		assert.NoError(t, err)

		row, err := st.GetFileByHash(ctx, "cafe03")
		require.NoError(t, err)
		assert.Equal(t, res.ServerFilename, row.Filename)
	})
}
