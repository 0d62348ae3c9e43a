package handlers

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/media"
	"github.com/collabcanvas/canvasd/pkg/store"
)

// MaintenanceHandler handles the database maintenance and debug endpoints.
type MaintenanceHandler struct {
	store   *store.GORMStore
	canvas  *canvas.Manager
	sweeper *media.Sweeper

	uploadsDir    string
	thumbnailsDir string
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(st *store.GORMStore, cm *canvas.Manager, sweeper *media.Sweeper, uploadsDir, thumbnailsDir string) *MaintenanceHandler {
	return &MaintenanceHandler{
		store:         st,
		canvas:        cm,
		sweeper:       sweeper,
		uploadsDir:    uploadsDir,
		thumbnailsDir: thumbnailsDir,
	}
}

// Cleanup handles POST /database/cleanup?dryRun&force&deleteAllThumbnails.
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := media.SweepOptions{
		DryRun:              flagParam(query, "dryRun"),
		Force:               flagParam(query, "force"),
		DeleteAllThumbnails: flagParam(query, "deleteAllThumbnails"),
	}

	result, err := h.sweeper.Sweep(r.Context(), opts)
	if err != nil {
		InternalServerError(w, "Cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(result))
}

// Size handles GET /database/size.
func (h *MaintenanceHandler) Size(w http.ResponseWriter, r *http.Request) {
	dbSize, err := h.store.DatabaseSize()
	if err != nil {
		dbSize = -1
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]int64{
		"database":   dbSize,
		"uploads":    dirSize(h.uploadsDir),
		"thumbnails": dirSize(h.thumbnailsDir),
	}))
}

// Wipe handles POST /debug/wipe-database {confirm, includeFiles}. Every
// table is emptied in dependency order inside one transaction; includeFiles
// additionally clears the upload and thumbnail directories.
func (h *MaintenanceHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm      bool `json:"confirm"`
		IncludeFiles bool `json:"includeFiles"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !req.Confirm {
		BadRequest(w, "Wipe requires confirm: true")
		return
	}

	if err := h.store.Wipe(r.Context()); err != nil {
		InternalServerError(w, "Wipe failed")
		return
	}
	h.canvas.EvictAll()

	removed := 0
	if req.IncludeFiles {
		removed += clearDir(h.uploadsDir)
		removed += clearDir(h.thumbnailsDir)
	}

	logger.Warn("database wiped", "include_files", req.IncludeFiles, "files_removed", removed)
	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"wiped":        true,
		"filesRemoved": removed,
	}))
}

// flagParam treats a bare query flag ("?dryRun") as true; an absent one is
// false.
func flagParam(q url.Values, name string) bool {
	if !q.Has(name) {
		return false
	}
	v := q.Get(name)
	return v == "" || v == "true" || v == "1"
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func clearDir(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
