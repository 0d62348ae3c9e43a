package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/metrics"
	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// MaxUploadBytes is the upload size ceiling.
const MaxUploadBytes = 500 << 20

var (
	// ErrUnsupportedType rejects anything that is not image/* or video/*.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrTooLarge rejects uploads over MaxUploadBytes.
	ErrTooLarge = errors.New("upload exceeds size limit")
)

// Pipeline ties the upload path together: disk write, hashing, files row,
// thumbnails for images, transcode enqueue for videos.
type Pipeline struct {
	uploadsDir  string
	ffprobePath string

	store     *store.GORMStore
	thumbs    *Thumbnailer
	queue     *TranscodeQueue
	broadcast Broadcaster
	metrics   *metrics.CanvasMetrics
}

// NewPipeline creates the media pipeline.
func NewPipeline(uploadsDir, ffprobePath string, st *store.GORMStore, thumbs *Thumbnailer, queue *TranscodeQueue, b Broadcaster, m *metrics.CanvasMetrics) *Pipeline {
	return &Pipeline{
		uploadsDir:  uploadsDir,
		ffprobePath: ffprobePath,
		store:       st,
		thumbs:      thumbs,
		queue:       queue,
		broadcast:   b,
		metrics:     m,
	}
}

// Thumbnailer exposes the thumbnail generator for the HTTP layer.
func (p *Pipeline) Thumbnailer() *Thumbnailer { return p.thumbs }

// Queue exposes the transcode queue for the HTTP layer.
func (p *Pipeline) Queue() *TranscodeQueue { return p.queue }

// UploadsDir returns the uploads root.
func (p *Pipeline) UploadsDir() string { return p.uploadsDir }

// UploadRequest carries one multipart upload.
type UploadRequest struct {
	OriginalName string
	MimeType     string
	Size         int64
	Content      io.Reader

	// Hash is the client-supplied SHA-256; computed server-side when empty.
	Hash     string
	UserID   string
	CanvasID string
}

// UploadResult is the HTTP response body shape.
type UploadResult struct {
	Success        bool   `json:"success"`
	URL            string `json:"url"`
	Hash           string `json:"hash"`
	Filename       string `json:"filename"`
	ServerFilename string `json:"serverFilename"`
	Size           int64  `json:"size"`
	Processing     bool   `json:"processing,omitempty"`
}

// Upload ingests one file. Images get their thumbnails synchronously before
// the response; videos that need re-encoding are queued and the response
// returns immediately with Processing set.
func (p *Pipeline) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	kind, _, _ := strings.Cut(req.MimeType, "/")
	if kind != "image" && kind != "video" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, req.MimeType)
	}
	if req.Size > MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, req.Size)
	}

	// A client-supplied hash lets us dedup before writing any bytes: when a
	// row with that content already exists and its file is still on disk,
	// the existing upload is returned as-is.
	if req.Hash != "" {
		if existing, err := p.store.GetFileByHash(ctx, req.Hash); err == nil {
			if _, statErr := os.Stat(filepath.Join(p.uploadsDir, existing.Filename)); statErr == nil {
				logger.Info("upload deduplicated",
					logger.Filename(existing.Filename),
					logger.Hash(req.Hash))
				return &UploadResult{
					Success:        true,
					URL:            "/uploads/" + existing.Filename,
					Hash:           existing.Hash,
					Filename:       req.OriginalName,
					ServerFilename: existing.Filename,
					Size:           existing.Size,
				}, nil
			}
		}
	}

	if err := os.MkdirAll(p.uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	filename := MintFilename(req.OriginalName)
	path := filepath.Join(p.uploadsDir, filename)

	written, hash, err := p.writeAndHash(path, req.Content)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if req.Hash != "" {
		hash = req.Hash
	}

	var canvasID *string
	if req.CanvasID != "" {
		canvasID = &req.CanvasID
	}
	file := &models.File{
		Filename:     filename,
		OriginalName: req.OriginalName,
		MimeType:     req.MimeType,
		Size:         written,
		Hash:         hash,
		UserID:       req.UserID,
		CanvasID:     canvasID,
	}

	result := &UploadResult{
		Success:        true,
		URL:            "/uploads/" + filename,
		Hash:           hash,
		Filename:       req.OriginalName,
		ServerFilename: filename,
		Size:           written,
	}

	if kind == "image" {
		if err := p.store.CreateFile(ctx, file); err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("failed to record upload: %w", err)
		}
		p.metrics.RecordUpload("image", written)
		p.thumbs.Generate(ctx, path, filename, nil)
		logger.Info("image uploaded",
			logger.Filename(filename),
			logger.Hash(hash),
			logger.Size(written))
		return result, nil
	}

	// Video: decide whether the original can be served as-is.
	needsTranscode := true
	if probe, perr := Probe(ctx, p.ffprobePath, path); perr == nil {
		needsTranscode = p.queue.NeedsTranscode(probe, req.MimeType)
	} else {
		logger.Warn("upload probe failed, queueing transcode anyway",
			logger.Filename(filename),
			logger.Err(perr))
	}

	if needsTranscode {
		file.ProcessingStatus = models.ProcessingPending
	} else {
		file.ProcessingStatus = models.ProcessingCompleted
	}
	if err := p.store.CreateFile(ctx, file); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}
	p.metrics.RecordUpload("video", written)

	if needsTranscode {
		position := p.queue.Enqueue(filename, path, req.CanvasID)
		result.Processing = true
		if req.CanvasID != "" {
			p.broadcast.EmitToCanvas(req.CanvasID, eventProcessingStart, map[string]any{
				"filename": filename,
				"position": position,
			})
		}
	}

	logger.Info("video uploaded",
		logger.Filename(filename),
		logger.Hash(hash),
		logger.Size(written))
	return result, nil
}

// writeAndHash streams the content to disk computing SHA-256 on the way,
// enforcing the size ceiling even when the declared size lied.
func (p *Pipeline) writeAndHash(path string, content io.Reader) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(content, MaxUploadBytes+1))
	if err != nil {
		return 0, "", fmt.Errorf("failed to write upload: %w", err)
	}
	if written > MaxUploadBytes {
		return 0, "", ErrTooLarge
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}
