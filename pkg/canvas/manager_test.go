//go:build integration

package canvas

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabcanvas/canvasd/pkg/store"
	"github.com/collabcanvas/canvasd/pkg/store/models"
)

func setupManager(t *testing.T) (*Manager, *store.GORMStore, string) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	canvasID, err := st.CreateCanvas(context.Background(), &models.Canvas{Name: "test"})
	require.NoError(t, err)

	return NewManager(st), st, canvasID
}

func TestManagerExecute(t *testing.T) {
	ctx := context.Background()
	m, st, canvasID := setupManager(t)

	t.Run("version increments exactly once per operation", func(t *testing.T) {
		res, err := m.Execute(ctx, canvasID, &Operation{
			ID:     "op-1",
			Type:   OpNodeCreate,
			Params: json.RawMessage(`{"id":1,"type":"text","pos":[10,10]}`),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.StateVersion)
		require.Len(t, res.Changes.Added, 1)

		res, err = m.Execute(ctx, canvasID, &Operation{
			ID:     "op-2",
			Type:   OpNodeMove,
			Params: json.RawMessage(`{"nodeId":1,"position":[50,50]}`),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.StateVersion)
	})

	t.Run("validation error leaves version untouched", func(t *testing.T) {
		_, err := m.Execute(ctx, canvasID, &Operation{
			ID:     "op-bad",
			Type:   OpNodeDelete,
			Params: json.RawMessage(`{"nodeIds":[]}`),
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)

		v, err := m.Version(ctx, canvasID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := m.Execute(ctx, canvasID, &Operation{
			ID:     "op-weird",
			Type:   "node_levitate",
			Params: json.RawMessage(`{}`),
		})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("scene persists through the store", func(t *testing.T) {
		canvas, err := st.GetCanvas(ctx, canvasID)
		require.NoError(t, err)

		loaded, err := UnmarshalState(canvas.CanvasData)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)
		require.NotNil(t, loaded.Get(1))
		assert.Equal(t, Vec2{50, 50}, loaded.Get(1).Pos)
	})

	t.Run("missing canvas fails", func(t *testing.T) {
		_, err := m.Execute(ctx, "no-such-canvas", &Operation{
			ID:     "op-3",
			Type:   OpNodeCreate,
			Params: json.RawMessage(`{"type":"text","pos":[0,0]}`),
		})
		assert.ErrorIs(t, err, models.ErrCanvasNotFound)
	})
}

func TestManagerUndoRedo(t *testing.T) {
	ctx := context.Background()
	m, _, canvasID := setupManager(t)

	_, err := m.Execute(ctx, canvasID, &Operation{
		ID:     "op-1",
		Type:   OpNodeCreate,
		Params: json.RawMessage(`{"id":1,"type":"text","pos":[10,10]}`),
	})
	require.NoError(t, err)

	moveOp := &Operation{
		ID:       "op-2",
		Type:     OpNodeMove,
		Params:   json.RawMessage(`{"nodeId":1,"position":[50,50]}`),
		UndoData: json.RawMessage(`{"previousPositions":{"1":[10,10]}}`),
	}
	_, err = m.Execute(ctx, canvasID, moveOp)
	require.NoError(t, err)

	t.Run("undo is one version bump and restores state", func(t *testing.T) {
		res, skipped, err := m.ApplyInverse(ctx, canvasID, []*Operation{moveOp})
		require.NoError(t, err)
		assert.Empty(t, skipped)
		assert.Equal(t, int64(3), res.StateVersion)

		nodes, version, err := m.FullState(ctx, canvasID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)
		require.Len(t, nodes, 1)
		assert.Equal(t, Vec2{10, 10}, nodes[0].Pos)
	})

	t.Run("redo reapplies in original order", func(t *testing.T) {
		res, err := m.Reapply(ctx, canvasID, []*Operation{moveOp})
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.StateVersion)

		nodes, _, _ := m.FullState(ctx, canvasID)
		assert.Equal(t, Vec2{50, 50}, nodes[0].Pos)
	})

	t.Run("batch undo bumps version once", func(t *testing.T) {
		ops := []*Operation{
			{
				ID:       "op-3",
				Type:     OpNodeMove,
				Params:   json.RawMessage(`{"nodeId":1,"position":[60,60]}`),
				UndoData: json.RawMessage(`{"previousPositions":{"1":[50,50]}}`),
			},
			{
				ID:       "op-4",
				Type:     OpNodeMove,
				Params:   json.RawMessage(`{"nodeId":1,"position":[70,70]}`),
				UndoData: json.RawMessage(`{"previousPositions":{"1":[60,60]}}`),
			},
		}
		for _, op := range ops {
			_, err := m.Execute(ctx, canvasID, op)
			require.NoError(t, err)
		}
		// Versions 5 and 6 consumed by the two executes.

		res, skipped, err := m.ApplyInverse(ctx, canvasID, ops)
		require.NoError(t, err)
		assert.Empty(t, skipped)
		assert.Equal(t, int64(7), res.StateVersion)

		nodes, _, _ := m.FullState(ctx, canvasID)
		assert.Equal(t, Vec2{50, 50}, nodes[0].Pos)
	})

	t.Run("op without inverse is skipped not fatal", func(t *testing.T) {
		op := &Operation{
			ID:     "op-noinverse",
			Type:   OpNodeMove,
			Params: json.RawMessage(`{"nodeId":1,"position":[0,0]}`),
		}
		_, err := m.Execute(ctx, canvasID, op)
		require.NoError(t, err)

		_, skipped, err := m.ApplyInverse(ctx, canvasID, []*Operation{op})
		require.NoError(t, err)
		assert.Equal(t, []string{"op-noinverse"}, skipped)
	})
}

func TestManagerFullStateIsACopy(t *testing.T) {
	ctx := context.Background()
	m, _, canvasID := setupManager(t)

	_, err := m.Execute(ctx, canvasID, &Operation{
		ID:     "op-1",
		Type:   OpNodeCreate,
		Params: json.RawMessage(`{"id":1,"type":"text","pos":[10,10]}`),
	})
	require.NoError(t, err)

	nodes, _, err := m.FullState(ctx, canvasID)
	require.NoError(t, err)
	nodes[0].Pos = Vec2{999, 999}

	fresh, _, err := m.FullState(ctx, canvasID)
	require.NoError(t, err)
	assert.Equal(t, Vec2{10, 10}, fresh[0].Pos)
}
