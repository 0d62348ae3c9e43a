// Package api provides the HTTP surface: the REST endpoints, the websocket
// upgrade endpoint and the optional metrics exposition.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/api/handlers"
	"github.com/collabcanvas/canvasd/pkg/api/middleware"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/collab"
	"github.com/collabcanvas/canvasd/pkg/media"
	"github.com/collabcanvas/canvasd/pkg/metrics"
	"github.com/collabcanvas/canvasd/pkg/store"
)

// RouterDeps carries everything the route table wires together.
type RouterDeps struct {
	Store   *store.GORMStore
	Canvas  *canvas.Manager
	Hub     *collab.Hub
	Media   *media.Pipeline
	Sweeper *media.Sweeper

	Version       string
	UploadsDir    string
	ThumbnailsDir string
	CORSOrigins   []string
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// The middleware stack (order matters): request id, real IP, request
// logging, panic recovery, CORS. No global timeout: uploads and the
// websocket endpoint are long-lived by design.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.CORSOrigins))

	healthHandler := handlers.NewHealthHandler(deps.Version, deps.Hub.SessionCount)
	canvasHandler := handlers.NewCanvasHandler(deps.Store, deps.Canvas)
	mediaHandler := handlers.NewMediaHandler(deps.Store, deps.Media)
	maintenanceHandler := handlers.NewMaintenanceHandler(deps.Store, deps.Canvas, deps.Sweeper, deps.UploadsDir, deps.ThumbnailsDir)

	r.Get("/health", healthHandler.Health)

	// Realtime channel.
	r.Get("/ws", deps.Hub.ServeHTTP)

	// Media.
	r.Post("/api/upload", mediaHandler.Upload)
	r.Get("/uploads/{filename}", mediaHandler.ServeUpload)
	r.Get("/thumbnails/{size}/{filename}", mediaHandler.ServeThumbnail)
	r.Post("/api/thumbnails/generate", mediaHandler.GenerateThumbnails)
	r.Post("/api/processing/cancel", mediaHandler.CancelProcessing)

	// Canvases.
	r.Route("/canvases", func(r chi.Router) {
		r.Get("/", canvasHandler.List)
		r.Post("/", canvasHandler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", canvasHandler.Get)
			r.Put("/", canvasHandler.Update)
			r.Delete("/", canvasHandler.Delete)
			r.Get("/state", canvasHandler.GetState)
			r.Put("/state", canvasHandler.PutState)
			r.Patch("/state", canvasHandler.PatchState)
		})
	})

	// Maintenance.
	r.Post("/database/cleanup", maintenanceHandler.Cleanup)
	r.Get("/database/size", maintenanceHandler.Size)
	r.Post("/debug/wipe-database", maintenanceHandler.Wipe)

	// Metrics exposition (404 unless the registry was initialized).
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
