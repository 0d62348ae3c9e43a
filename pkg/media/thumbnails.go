package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
)

// ThumbnailSizes are the derived sizes, in pixels of the bounding box.
var ThumbnailSizes = []int{64, 128, 256, 512, 1024, 2048}

const (
	thumbnailQuality = 85
	thumbnailBatch   = 2
	// interBatchDelay bounds peak encoder memory when a large source fans
	// out to several sizes at once.
	interBatchDelay = 50 * time.Millisecond
)

// Thumbnailer derives fit-within WebP thumbnails from an uploaded source.
type Thumbnailer struct {
	ffmpegPath    string
	ffprobePath   string
	thumbnailsDir string
}

// NewThumbnailer creates a thumbnailer writing under thumbnailsDir/<size>/.
func NewThumbnailer(ffmpegPath, ffprobePath, thumbnailsDir string) *Thumbnailer {
	return &Thumbnailer{
		ffmpegPath:    ffmpegPath,
		ffprobePath:   ffprobePath,
		thumbnailsDir: thumbnailsDir,
	}
}

// Path returns where the thumbnail for a server filename at a size lives.
func (t *Thumbnailer) Path(size int, filename string) string {
	return filepath.Join(t.thumbnailsDir, fmt.Sprintf("%d", size), Basename(filename)+".webp")
}

// Generate derives thumbnails for the requested sizes and returns the sizes
// actually produced (or already present). Sizes not exceeded by the source's
// longest edge are skipped. Per-size failures are logged and swallowed; a
// missing thumbnail degrades to serving the original.
func (t *Thumbnailer) Generate(ctx context.Context, sourcePath, filename string, sizes []int) []int {
	if len(sizes) == 0 {
		sizes = ThumbnailSizes
	}

	probe, err := Probe(ctx, t.ffprobePath, sourcePath)
	if err != nil {
		logger.Warn("thumbnail probe failed",
			logger.Filename(filename),
			logger.Err(err))
		return nil
	}
	longest := probe.LongestEdge()

	var pending []int
	var done []int
	for _, size := range sizes {
		if longest <= size {
			continue
		}
		if _, err := os.Stat(t.Path(size, filename)); err == nil {
			done = append(done, size)
			continue
		}
		pending = append(pending, size)
	}

	for start := 0; start < len(pending); start += thumbnailBatch {
		end := start + thumbnailBatch
		if end > len(pending) {
			end = len(pending)
		}
		for _, size := range pending[start:end] {
			if err := t.generateOne(ctx, sourcePath, filename, size); err != nil {
				logger.Warn("thumbnail generation failed",
					logger.Filename(filename),
					logger.Size(int64(size)),
					logger.Err(err))
				continue
			}
			done = append(done, size)
		}
		if end < len(pending) {
			select {
			case <-time.After(interBatchDelay):
			case <-ctx.Done():
				return done
			}
		}
	}
	return done
}

func (t *Thumbnailer) generateOne(ctx context.Context, sourcePath, filename string, size int) error {
	outPath := t.Path(size, filename)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	// Fit within size x size preserving aspect; never upscale.
	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", size, size)
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-y",
		"-i", sourcePath,
		"-frames:v", "1",
		"-vf", scale,
		"-c:v", "libwebp",
		"-quality", fmt.Sprintf("%d", thumbnailQuality),
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("ffmpeg: %w (%s)", err, lastLine(out))
	}
	return nil
}

// Prune removes every thumbnail derived from the given server filename.
func (t *Thumbnailer) Prune(filename string) int {
	removed := 0
	for _, size := range ThumbnailSizes {
		if err := os.Remove(t.Path(size, filename)); err == nil {
			removed++
		}
	}
	return removed
}

// lastLine extracts the tail of subprocess output for error messages.
func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
