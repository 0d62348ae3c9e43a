package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/store"
)

const (
	sweepInterval   = 6 * time.Hour
	firstSweepDelay = 30 * time.Minute
	// operationWindow protects files referenced only by very recent
	// operations whose nodes may not have been persisted yet.
	operationWindow = 30 * time.Minute
	// videoGrace keeps fresh videos around long enough for the transcode
	// queue to get to them.
	videoGrace = time.Hour
)

// SweepOptions control one cleanup run.
type SweepOptions struct {
	DryRun bool
	// Force overrides the refusal paths: deleting more than half the
	// files, or deleting videos younger than the grace period.
	Force               bool
	DeleteAllThumbnails bool
}

// SweepResult reports what a run did (or would do, under DryRun).
type SweepResult struct {
	TotalFiles       int      `json:"totalFiles"`
	Referenced       int      `json:"referenced"`
	Deleted          int      `json:"deleted"`
	DeletedFilenames []string `json:"deletedFilenames,omitempty"`
	ThumbnailsPruned int      `json:"thumbnailsPruned"`
	DiskStrays       int      `json:"diskStrays,omitempty"`
	Refused          bool     `json:"refused,omitempty"`
	RefusedReason    string   `json:"refusedReason,omitempty"`
	ProtectedByGrace int      `json:"protectedByGrace,omitempty"`
}

// Sweeper is the periodic orphan collector: files rows whose content no
// canvas references anymore get their disk files, thumbnails and rows
// removed.
type Sweeper struct {
	store  *store.GORMStore
	thumbs *Thumbnailer

	uploadsDir string
}

// NewSweeper creates the sweeper.
func NewSweeper(st *store.GORMStore, thumbs *Thumbnailer, uploadsDir string) *Sweeper {
	return &Sweeper{store: st, thumbs: thumbs, uploadsDir: uploadsDir}
}

// Run sweeps on the standard schedule until ctx is done. The first run is
// delayed so a restarting server does not race its own clients.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(firstSweepDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if result, err := s.Sweep(ctx, SweepOptions{}); err != nil {
			logger.Error("media sweep failed", logger.Err(err))
		} else if result.Deleted > 0 || result.Refused {
			logger.Info("media sweep finished", logger.NodeCount(result.Deleted))
		}

		timer.Reset(sweepInterval)
	}
}

// Sweep runs one mark-and-sweep pass. Mark: every filename and hash that
// appears in any canvas blob or in the last half hour of operations.
// Sweep: everything else, subject to the video grace period and the
// half-the-files refusal.
func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	files, err := s.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	result := &SweepResult{TotalFiles: len(files)}
	if len(files) == 0 {
		return result, nil
	}

	referenced, err := s.collectReferences(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	type victim struct {
		filename string
		isVideo  bool
		age      time.Duration
	}
	var victims []victim

	for _, f := range files {
		if referencedFile(referenced, f.Filename, f.Hash) {
			result.Referenced++
			continue
		}
		age := now.Sub(f.CreatedAt)
		if f.IsVideo() && age < videoGrace && !opts.Force {
			result.ProtectedByGrace++
			continue
		}
		victims = append(victims, victim{filename: f.Filename, isVideo: f.IsVideo(), age: age})
	}

	if len(victims) > len(files)/2 && !opts.Force {
		result.Refused = true
		result.RefusedReason = "sweep would delete more than half of all files; pass force to proceed"
		logger.Warn("media sweep refused",
			logger.NodeCount(len(victims)),
			logger.Size(int64(len(files))))
		return result, nil
	}

	for _, v := range victims {
		result.Deleted++
		result.DeletedFilenames = append(result.DeletedFilenames, v.filename)
		if opts.DryRun {
			continue
		}
		s.deleteFile(ctx, v.filename)
		result.ThumbnailsPruned += s.thumbs.Prune(v.filename)
	}

	if opts.DeleteAllThumbnails && !opts.DryRun {
		for _, f := range files {
			result.ThumbnailsPruned += s.thumbs.Prune(f.Filename)
		}
	}

	if err := s.sweepDiskStrays(ctx, opts, result); err != nil {
		return nil, err
	}

	return result, nil
}

// sweepDiskStrays removes uploads-directory files that no files row names,
// matched by basename so transcoded derivatives of live rows survive. Files
// younger than the operation window are left alone; their rows may still be
// in flight.
func (s *Sweeper) sweepDiskStrays(ctx context.Context, opts SweepOptions, result *SweepResult) error {
	names, err := s.store.ListFilenames(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(names))
	for n := range names {
		known[Basename(n)] = struct{}{}
	}

	entries, err := os.ReadDir(s.uploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := known[Basename(e.Name())]; ok {
			continue
		}
		if info, err := e.Info(); err == nil && now.Sub(info.ModTime()) < operationWindow && !opts.Force {
			continue
		}
		result.DiskStrays++
		if opts.DryRun {
			continue
		}
		if err := os.Remove(filepath.Join(s.uploadsDir, e.Name())); err == nil {
			logger.Info("stray upload removed", logger.Filename(e.Name()))
		}
	}
	return nil
}

// collectReferences gathers every blob that can name a file: all canvas
// scene data plus recent operation params and undo data. Matching is done
// by substring, which covers serverFilename, serverUrl and hash fields
// without coupling the sweep to the node schema.
func (s *Sweeper) collectReferences(ctx context.Context) ([][]byte, error) {
	var blobs [][]byte

	canvases, err := s.store.ListCanvases(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range canvases {
		if len(c.CanvasData) > 0 {
			blobs = append(blobs, c.CanvasData)
		}
	}

	recent, err := s.store.ListRecentOperations(ctx, time.Now().Add(-operationWindow))
	if err != nil {
		return nil, err
	}
	for _, op := range recent {
		if len(op.Params) > 0 {
			blobs = append(blobs, op.Params)
		}
		if len(op.UndoData) > 0 {
			blobs = append(blobs, op.UndoData)
		}
	}
	return blobs, nil
}

func referencedFile(blobs [][]byte, filename, hash string) bool {
	// The basename also covers transcoded derivative references
	// ("<base>.webm" for an uploaded "<base>.mov").
	keys := [][]byte{[]byte(Basename(filename))}
	if hash != "" {
		keys = append(keys, []byte(hash))
	}
	for _, blob := range blobs {
		for _, key := range keys {
			if bytes.Contains(blob, key) {
				return true
			}
		}
	}
	return false
}

// deleteFile removes the row, the original and any transcoded derivatives.
func (s *Sweeper) deleteFile(ctx context.Context, filename string) {
	if err := s.store.DeleteFile(ctx, filename); err != nil {
		logger.Warn("failed to delete file row", logger.Filename(filename), logger.Err(err))
	}
	base := Basename(filename)
	os.Remove(filepath.Join(s.uploadsDir, filename))
	os.Remove(filepath.Join(s.uploadsDir, base+".webm"))
	os.Remove(filepath.Join(s.uploadsDir, base+".mp4"))
	logger.Info("orphaned media removed", logger.Filename(filename))
}
