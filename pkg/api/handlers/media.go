package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/media"
	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// multipartMemory is how much of an upload ParseMultipartForm holds in
// memory before spilling to a temp file.
const multipartMemory = 32 << 20

// MediaHandler handles upload, serving and thumbnail endpoints.
type MediaHandler struct {
	store    *store.GORMStore
	pipeline *media.Pipeline
}

// NewMediaHandler creates a media handler.
func NewMediaHandler(st *store.GORMStore, pipeline *media.Pipeline) *MediaHandler {
	return &MediaHandler{store: st, pipeline: pipeline}
}

// Upload handles POST /api/upload (multipart field "file", optional
// "hash", "canvasId", "userId").
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		BadRequest(w, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "Missing file field")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	result, err := h.pipeline.Upload(r.Context(), &media.UploadRequest{
		OriginalName: header.Filename,
		MimeType:     mimeType,
		Size:         header.Size,
		Content:      file,
		Hash:         r.FormValue("hash"),
		UserID:       r.FormValue("userId"),
		CanvasID:     r.FormValue("canvasId"),
	})
	if err != nil {
		switch {
		case errors.Is(err, media.ErrUnsupportedType):
			writeJSON(w, http.StatusUnsupportedMediaType, errorResponse("Only image and video uploads are accepted"))
		case errors.Is(err, media.ErrTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("Upload exceeds the 500 MiB limit"))
		default:
			logger.Error("upload failed", logger.Filename(header.Filename), logger.Err(err))
			InternalServerError(w, "Upload failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ServeUpload handles GET /uploads/{filename}, content-negotiated for
// videos with transcoded derivatives.
func (h *MediaHandler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !safeFilename(filename) {
		BadRequest(w, "Invalid filename")
		return
	}

	choice, err := h.pipeline.ResolveServe(r.Context(), filename, r.Header.Get("Accept"))
	if err != nil {
		NotFound(w, "File not found")
		return
	}
	if choice.ContentType != "" {
		w.Header().Set("Content-Type", choice.ContentType)
	}
	http.ServeFile(w, r, choice.Path)
}

// ServeThumbnail handles GET /thumbnails/{size}/{filename}.
func (h *MediaHandler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil || size <= 0 || !safeFilename(filename) {
		BadRequest(w, "Invalid thumbnail request")
		return
	}

	path := h.pipeline.Thumbnailer().Path(size, filename)
	if _, err := os.Stat(path); err != nil {
		NotFound(w, "Thumbnail not found")
		return
	}
	w.Header().Set("Content-Type", "image/webp")
	http.ServeFile(w, r, path)
}

// GenerateThumbnails handles POST /api/thumbnails/generate {hash, sizes[]}.
// Missing sizes are derived on demand; existing ones are reused.
func (h *MediaHandler) GenerateThumbnails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash  string `json:"hash"`
		Sizes []int  `json:"sizes"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Hash == "" {
		BadRequest(w, "hash is required")
		return
	}

	file, err := h.store.GetFileByHash(r.Context(), req.Hash)
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			NotFound(w, "No file with that hash")
			return
		}
		InternalServerError(w, "Failed to look up file")
		return
	}

	sourcePath := filepath.Join(h.pipeline.UploadsDir(), file.Filename)
	generated := h.pipeline.Thumbnailer().Generate(r.Context(), sourcePath, file.Filename, req.Sizes)

	urls := make(map[string]string, len(generated))
	for _, size := range generated {
		urls[strconv.Itoa(size)] = fmt.Sprintf("/thumbnails/%d/%s.webp", size, media.Basename(file.Filename))
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{"urls": urls}))
}

// CancelProcessing handles POST /api/processing/cancel {filename}: removes
// a queued transcode or interrupts the running one.
func (h *MediaHandler) CancelProcessing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Filename == "" {
		BadRequest(w, "filename is required")
		return
	}

	if !h.pipeline.Queue().Cancel(req.Filename) {
		NotFound(w, "No processing job for that filename")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"filename": req.Filename}))
}

// safeFilename rejects path traversal in filename URL parameters.
func safeFilename(name string) bool {
	return name != "" && name == filepath.Base(name) && name[0] != '.'
}
