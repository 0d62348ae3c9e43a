//go:build integration

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

func createCanvasRouter(t *testing.T) (http.Handler, *store.GORMStore) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	handler := NewCanvasHandler(st, canvas.NewManager(st))
	r := chi.NewRouter()
	r.Route("/canvases", func(r chi.Router) {
		r.Get("/", handler.List)
		r.Post("/", handler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.Get)
			r.Put("/", handler.Update)
			r.Delete("/", handler.Delete)
			r.Get("/state", handler.GetState)
			r.Put("/state", handler.PutState)
			r.Patch("/state", handler.PatchState)
		})
	})
	return r, st
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCanvasCRUD(t *testing.T) {
	router, _ := createCanvasRouter(t)

	t.Run("create requires a name", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/canvases", map[string]string{"description": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("create, get, list", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/canvases", map[string]string{
			"id":   "board-1",
			"name": "Design board",
		})
		require.Equal(t, http.StatusCreated, w.Code)

		w = doJSON(t, router, "GET", "/canvases/board-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "Design board", data["name"])

		w = doJSON(t, router, "GET", "/canvases", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("update and delete", func(t *testing.T) {
		doJSON(t, router, "POST", "/canvases", map[string]string{"id": "board-2", "name": "old"})

		w := doJSON(t, router, "PUT", "/canvases/board-2", map[string]string{"name": "new"})
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, "DELETE", "/canvases/board-2", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, "GET", "/canvases/board-2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown canvas is 404", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/canvases/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCanvasState(t *testing.T) {
	router, st := createCanvasRouter(t)
	doJSON(t, router, "POST", "/canvases", map[string]string{"id": "board-1", "name": "board"})

	t.Run("empty state round-trip", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/canvases/board-1/state", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(0), data["stateVersion"])
	})

	t.Run("put replaces the scene", func(t *testing.T) {
		blob := map[string]interface{}{
			"nodes": []map[string]interface{}{
				{"id": 1700000000000001, "type": "text", "pos": []float64{10, 20}, "title": "hello"},
			},
			"version": 7,
		}
		w := doJSON(t, router, "PUT", "/canvases/board-1/state", blob)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, "GET", "/canvases/board-1/state", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(7), data["stateVersion"])
		assert.Len(t, data["nodes"], 1)
	})

	t.Run("put rejects malformed scenes", func(t *testing.T) {
		req := httptest.NewRequest("PUT", "/canvases/board-1/state", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("patch saves navigation state", func(t *testing.T) {
		w := doJSON(t, router, "PATCH", "/canvases/board-1/state", map[string]interface{}{
			"userId": "user-1",
			"navigation_state": map[string]interface{}{
				"scale":  1.5,
				"offset": []float64{100, -50},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)

		vp, err := st.GetViewport(context.Background(), "user-1", "board-1")
		require.NoError(t, err)
		assert.Equal(t, 1.5, vp.Scale)
		assert.Equal(t, 100.0, vp.OffsetX)
		assert.Equal(t, -50.0, vp.OffsetY)

		// And GET /state echoes it back for the user.
		w = doJSON(t, router, "GET", "/canvases/board-1/state?userId=user-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		data := resp.Data.(map[string]interface{})
		require.Contains(t, data, "navigation_state")
	})

	t.Run("patch rejects out-of-range scale", func(t *testing.T) {
		for _, scale := range []float64{0, -1, 20.5} {
			w := doJSON(t, router, "PATCH", "/canvases/board-1/state", map[string]interface{}{
				"userId": "user-1",
				"navigation_state": map[string]interface{}{
					"scale":  scale,
					"offset": []float64{0, 0},
				},
			})
			assert.Equal(t, http.StatusBadRequest, w.Code, "scale %v", scale)
		}
	})

	t.Run("scale of exactly 20 is allowed", func(t *testing.T) {
		w := doJSON(t, router, "PATCH", "/canvases/board-1/state", map[string]interface{}{
			"userId": "user-1",
			"navigation_state": map[string]interface{}{
				"scale":  20.0,
				"offset": []float64{0, 0},
			},
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCanvasDeleteCascades(t *testing.T) {
	router, st := createCanvasRouter(t)
	ctx := context.Background()

	doJSON(t, router, "POST", "/canvases", map[string]string{"id": "board-1", "name": "board"})
	require.NoError(t, st.RecordOperation(ctx, &models.Operation{
		ID: "op-1", Type: "node_create", CanvasID: "board-1", UserID: "u1", SequenceNumber: 1,
	}))

	w := doJSON(t, router, "DELETE", "/canvases/board-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ops, err := st.ListCanvasOperations(ctx, "board-1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}
