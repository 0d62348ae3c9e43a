package canvas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUndoData(t *testing.T) {
	t.Run("restores deleted nodes", func(t *testing.T) {
		state := NewState()
		ud := &UndoData{
			DeletedNodes: []*Node{{ID: 1, Type: "text", Pos: Vec2{5, 5}, Size: Vec2{10, 10}}},
		}

		cs := &ChangeSet{}
		applyUndoData(state, ud, cs)

		require.Len(t, cs.Added, 1)
		assert.Equal(t, Vec2{5, 5}, state.Get(1).Pos)
	})

	t.Run("removes created nodes and prunes groups", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})
		group := addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{300, 200})
		group.SetChildIDs([]int64{1})

		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{CreatedNodeIDs: []int64{1}}, cs)

		assert.Nil(t, state.Get(1))
		assert.Equal(t, []int64{1}, cs.Removed)
		assert.Empty(t, group.ChildIDs())
	})

	t.Run("nodeId form removes the created node", func(t *testing.T) {
		state := NewState()
		addNode(state, 7, "text", Vec2{0, 0}, Vec2{10, 10})

		id := int64(7)
		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{NodeID: &id}, cs)
		assert.Nil(t, state.Get(7))
	})

	t.Run("restores positions sizes rotations and ratios", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, "media/image", Vec2{100, 100}, Vec2{200, 100})
		n.Rotation = 0.5
		n.AspectRatio = 2

		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{
			PreviousPositions:    map[string]Vec2{"1": {0, 0}},
			PreviousSizes:        map[string]Vec2{"1": {100, 100}},
			PreviousRotations:    map[string]float64{"1": 0},
			PreviousAspectRatios: map[string]float64{"1": 1},
		}, cs)

		assert.Equal(t, Vec2{0, 0}, n.Pos)
		assert.Equal(t, Vec2{100, 100}, n.Size)
		assert.Zero(t, n.Rotation)
		assert.Equal(t, 1.0, n.AspectRatio)
		// One node touched four ways still appears once.
		assert.Len(t, cs.Updated, 1)
	})

	t.Run("shallow merges properties", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})
		n.SetProperty("color", "red")
		n.SetProperty("fontSize", 12.0)

		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{
			PreviousProperties: map[string]map[string]any{"1": {"color": "blue"}},
		}, cs)

		assert.Equal(t, "blue", n.Property("color"))
		assert.Equal(t, 12.0, n.Property("fontSize"))
	})

	t.Run("previousState merges partial node", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, "media/image", Vec2{0, 0}, Vec2{300, 100})
		n.AspectRatio = 3

		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{
			PreviousState: map[string]map[string]any{
				"1": {"rotation": 0.9, "size": []any{300.0, 200.0}, "aspectRatio": 1.5},
			},
		}, cs)

		assert.Equal(t, 0.9, n.Rotation)
		assert.Equal(t, Vec2{300, 200}, n.Size)
		assert.Equal(t, 1.5, n.AspectRatio)
	})

	t.Run("array form restores old positions", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, "text", Vec2{50, 50}, Vec2{10, 10})

		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{
			Nodes: []UndoMove{{ID: 1, OldPosition: Vec2{10, 10}}},
		}, cs)
		assert.Equal(t, Vec2{10, 10}, n.Pos)
	})

	t.Run("missing ids are skipped", func(t *testing.T) {
		state := NewState()
		cs := &ChangeSet{}
		applyUndoData(state, &UndoData{
			PreviousPositions: map[string]Vec2{"404": {0, 0}},
		}, cs)
		assert.True(t, cs.Empty())
	})
}

func TestDecodeUndoData(t *testing.T) {
	t.Run("empty yields zero value", func(t *testing.T) {
		ud, err := DecodeUndoData(nil)
		require.NoError(t, err)
		assert.True(t, ud.IsZero())

		ud, err = DecodeUndoData(json.RawMessage(`null`))
		require.NoError(t, err)
		assert.True(t, ud.IsZero())
	})

	t.Run("parses subset", func(t *testing.T) {
		ud, err := DecodeUndoData(json.RawMessage(`{"previousPositions":{"5":[1,2]}}`))
		require.NoError(t, err)
		assert.False(t, ud.IsZero())
		assert.Equal(t, Vec2{1, 2}, ud.PreviousPositions["5"])
	})

	t.Run("malformed fails", func(t *testing.T) {
		_, err := DecodeUndoData(json.RawMessage(`{"previousPositions":`))
		assert.Error(t, err)
	})
}

func TestFallbackInverse(t *testing.T) {
	m := newTestManager()

	t.Run("node_create with supplied id", func(t *testing.T) {
		state := NewState()
		addNode(state, 42, "text", Vec2{0, 0}, Vec2{10, 10})

		cs := &ChangeSet{}
		ok := m.fallbackInverse(state, OpNodeCreate, json.RawMessage(`{"id":42,"type":"text","pos":[0,0]}`), cs)
		assert.True(t, ok)
		assert.Nil(t, state.Get(42))
	})

	t.Run("node_create without id cannot invert", func(t *testing.T) {
		state := NewState()
		cs := &ChangeSet{}
		ok := m.fallbackInverse(state, OpNodeCreate, json.RawMessage(`{"type":"text","pos":[0,0]}`), cs)
		assert.False(t, ok)
	})

	t.Run("video_toggle flips back", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, TypeVideo, Vec2{0, 0}, Vec2{640, 360})
		n.SetProperty("paused", true)

		cs := &ChangeSet{}
		ok := m.fallbackInverse(state, OpVideoToggle, json.RawMessage(`{"nodeId":1,"paused":true}`), cs)
		assert.True(t, ok)
		assert.Equal(t, false, n.Property("paused"))
	})

	t.Run("group_toggle_collapsed is self inverse", func(t *testing.T) {
		state := NewState()
		group := addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{640, 480})
		group.SetProperty("expandedSize", []float64{640, 480})
		group.SetProperty("isCollapsed", true)
		group.Size = collapsedSize

		cs := &ChangeSet{}
		ok := m.fallbackInverse(state, OpGroupToggleCollapsed, json.RawMessage(`{"groupId":10}`), cs)
		assert.True(t, ok)
		assert.Equal(t, Vec2{640, 480}, group.Size)
	})

	t.Run("move has no fallback", func(t *testing.T) {
		state := NewState()
		cs := &ChangeSet{}
		ok := m.fallbackInverse(state, OpNodeMove, json.RawMessage(`{"nodeId":1,"position":[0,0]}`), cs)
		assert.False(t, ok)
	})
}

func TestIDMinting(t *testing.T) {
	var minter idMinter
	seen := make(map[int64]bool)
	for i := 0; i < 2000; i++ {
		id := minter.next()
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}
