package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// maxStateBody bounds PUT /canvases/{id}/state bodies. Scenes are node
// metadata, not media; anything bigger is a client bug.
const maxStateBody = 32 << 20

// CanvasHandler handles canvas CRUD and scene state endpoints.
type CanvasHandler struct {
	store  *store.GORMStore
	canvas *canvas.Manager
}

// NewCanvasHandler creates a canvas handler.
func NewCanvasHandler(st *store.GORMStore, cm *canvas.Manager) *CanvasHandler {
	return &CanvasHandler{store: st, canvas: cm}
}

type canvasSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	OwnerID      string    `json:"ownerId,omitempty"`
	LastModified time.Time `json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt"`
}

func summarize(c *models.Canvas) canvasSummary {
	return canvasSummary{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		OwnerID:      c.OwnerID,
		LastModified: c.LastModified,
		CreatedAt:    c.CreatedAt,
	}
}

// List handles GET /canvases.
func (h *CanvasHandler) List(w http.ResponseWriter, r *http.Request) {
	canvases, err := h.store.ListCanvases(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list canvases")
		return
	}
	out := make([]canvasSummary, 0, len(canvases))
	for _, c := range canvases {
		out = append(out, summarize(c))
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Create handles POST /canvases.
func (h *CanvasHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		OwnerID     string `json:"ownerId"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Canvas name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	c := &models.Canvas{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		OwnerID:      req.OwnerID,
		CanvasData:   []byte(`{"nodes":[],"version":0}`),
		LastModified: time.Now(),
	}
	if _, err := h.store.CreateCanvas(r.Context(), c); err != nil {
		InternalServerError(w, "Failed to create canvas")
		return
	}

	logger.Info("canvas created", logger.CanvasID(c.ID))
	writeJSON(w, http.StatusCreated, okResponse(summarize(c)))
}

// Get handles GET /canvases/{id}.
func (h *CanvasHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.getCanvasOrError(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, okResponse(summarize(c)))
}

// Update handles PUT /canvases/{id} (name and description only; scene data
// goes through the state endpoint).
func (h *CanvasHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.store.UpdateCanvasMeta(r.Context(), id, req.Name, req.Description); err != nil {
		if errors.Is(err, models.ErrCanvasNotFound) {
			NotFound(w, "Canvas not found")
			return
		}
		InternalServerError(w, "Failed to update canvas")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"id": id}))
}

// Delete handles DELETE /canvases/{id}. Cascades operations, sessions,
// transactions and viewports; the in-memory scene is evicted.
func (h *CanvasHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteCanvas(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrCanvasNotFound) {
			NotFound(w, "Canvas not found")
			return
		}
		InternalServerError(w, "Failed to delete canvas")
		return
	}
	h.canvas.Evict(id)

	logger.Info("canvas deleted", logger.CanvasID(id))
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"id": id}))
}

// GetState handles GET /canvases/{id}/state. With a userId query parameter
// the response also carries that user's saved navigation state.
func (h *CanvasHandler) GetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	nodes, version, err := h.canvas.FullState(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrCanvasNotFound) {
			NotFound(w, "Canvas not found")
			return
		}
		InternalServerError(w, "Failed to load canvas state")
		return
	}

	data := map[string]interface{}{
		"nodes":        nodes,
		"stateVersion": version,
	}
	if userID := r.URL.Query().Get("userId"); userID != "" {
		if vp, err := h.store.GetViewport(r.Context(), userID, id); err == nil {
			data["navigation_state"] = map[string]interface{}{
				"scale":     vp.Scale,
				"offset":    [2]float64{vp.OffsetX, vp.OffsetY},
				"timestamp": vp.UpdatedAt.UnixMilli(),
			}
		}
	}
	writeJSON(w, http.StatusOK, okResponse(data))
}

// PutState handles PUT /canvases/{id}/state: a full scene replacement. The
// body must be a valid scene blob; the cached state is evicted so the next
// operation reloads it.
func (h *CanvasHandler) PutState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := h.getCanvasOrErrorByID(w, r, id); !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateBody))
	if err != nil {
		BadRequest(w, "Failed to read request body")
		return
	}

	state, err := canvas.UnmarshalState(body)
	if err != nil {
		BadRequest(w, "Invalid canvas state")
		return
	}
	normalized, err := state.Marshal()
	if err != nil {
		InternalServerError(w, "Failed to serialize canvas state")
		return
	}

	if err := h.store.SaveCanvasData(r.Context(), id, normalized); err != nil {
		InternalServerError(w, "Failed to save canvas state")
		return
	}
	h.canvas.Evict(id)

	logger.Info("canvas state replaced",
		logger.CanvasID(id),
		logger.NodeCount(state.Len()))
	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"id":           id,
		"stateVersion": state.Version,
	}))
}

// PatchState handles PATCH /canvases/{id}/state: a navigation-state write.
// The scene itself never changes through this endpoint.
func (h *CanvasHandler) PatchState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		UserID          string `json:"userId"`
		NavigationState *struct {
			Scale     float64    `json:"scale"`
			Offset    [2]float64 `json:"offset"`
			Timestamp int64      `json:"timestamp"`
		} `json:"navigation_state"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.NavigationState == nil {
		BadRequest(w, "navigation_state is required")
		return
	}
	if req.UserID == "" {
		BadRequest(w, "userId is required")
		return
	}
	if s := req.NavigationState.Scale; s <= 0 || s > 20 {
		BadRequest(w, "navigation_state.scale must be in (0, 20]")
		return
	}

	if _, ok := h.getCanvasOrErrorByID(w, r, id); !ok {
		return
	}

	err := h.store.SaveViewport(r.Context(), &models.UserViewportState{
		UserID:   req.UserID,
		CanvasID: id,
		Scale:    req.NavigationState.Scale,
		OffsetX:  req.NavigationState.Offset[0],
		OffsetY:  req.NavigationState.Offset[1],
	})
	if err != nil {
		InternalServerError(w, "Failed to save navigation state")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"id": id}))
}

func (h *CanvasHandler) getCanvasOrError(w http.ResponseWriter, r *http.Request) (*models.Canvas, bool) {
	return h.getCanvasOrErrorByID(w, r, chi.URLParam(r, "id"))
}

func (h *CanvasHandler) getCanvasOrErrorByID(w http.ResponseWriter, r *http.Request, id string) (*models.Canvas, bool) {
	c, err := h.store.GetCanvas(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrCanvasNotFound) {
			NotFound(w, "Canvas not found")
			return nil, false
		}
		InternalServerError(w, "Failed to load canvas")
		return nil, false
	}
	return c, true
}
