package canvas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return &Manager{entries: make(map[string]*canvasEntry)}
}

// applyParams decodes, validates and applies an operation against a scene.
func applyParams(t *testing.T, m *Manager, state *State, opType OpType, paramsJSON string) *ChangeSet {
	t.Helper()
	params, err := DecodeParams(opType, json.RawMessage(paramsJSON))
	require.NoError(t, err)
	require.NoError(t, validate(opType, params))
	cs, err := m.apply(state, opType, params)
	require.NoError(t, err)
	return cs
}

func addNode(state *State, id int64, nodeType string, pos, size Vec2) *Node {
	n := &Node{ID: id, Type: nodeType, Pos: pos, Size: size}
	state.Add(n)
	return n
}

func TestNodeCreate(t *testing.T) {
	m := newTestManager()

	t.Run("mints id when absent", func(t *testing.T) {
		state := NewState()
		cs := applyParams(t, m, state, OpNodeCreate, `{"type":"text","pos":[10,10]}`)

		require.Len(t, cs.Added, 1)
		assert.NotZero(t, cs.Added[0].ID)
		assert.Equal(t, "text", cs.Added[0].Type)
		assert.NotNil(t, state.Get(cs.Added[0].ID))
	})

	t.Run("uses supplied id", func(t *testing.T) {
		state := NewState()
		cs := applyParams(t, m, state, OpNodeCreate, `{"id":42,"type":"text","pos":[0,0]}`)
		assert.Equal(t, int64(42), cs.Added[0].ID)
	})

	t.Run("strips inline data url from media", func(t *testing.T) {
		state := NewState()
		cs := applyParams(t, m, state, OpNodeCreate,
			`{"id":1,"type":"media/image","pos":[0,0],"properties":{"src":"data:image/png;base64,AAAA","hash":"abc"}}`)

		node := cs.Added[0]
		assert.Nil(t, node.Property("src"))
		assert.Equal(t, "abc", node.StringProperty("hash"))
	})

	t.Run("keeps non-inline src", func(t *testing.T) {
		state := NewState()
		cs := applyParams(t, m, state, OpNodeCreate,
			`{"id":1,"type":"media/image","pos":[0,0],"properties":{"src":"/uploads/x.png"}}`)
		assert.Equal(t, "/uploads/x.png", cs.Added[0].StringProperty("src"))
	})

	t.Run("requires type", func(t *testing.T) {
		params, err := DecodeParams(OpNodeCreate, json.RawMessage(`{"pos":[0,0]}`))
		require.NoError(t, err)
		assert.Error(t, validate(OpNodeCreate, params))
	})

	t.Run("group create drops missing childNodes refs", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		cs := applyParams(t, m, state, OpNodeCreate,
			`{"id":7,"type":"container/group","pos":[0,0],"properties":{"childNodes":[1,999]}}`)

		require.Len(t, cs.Added, 1)
		assert.Equal(t, []int64{1}, cs.Added[0].ChildIDs())
		assert.Nil(t, state.Get(999))
	})
}

func TestNodeMove(t *testing.T) {
	m := newTestManager()

	t.Run("single form", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{100, 50})

		cs := applyParams(t, m, state, OpNodeMove, `{"nodeId":1,"position":[50,60]}`)
		require.Len(t, cs.Updated, 1)
		assert.Equal(t, Vec2{50, 60}, state.Get(1).Pos)
	})

	t.Run("multi form skips missing ids", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		cs := applyParams(t, m, state, OpNodeMove, `{"nodeIds":[1,999],"positions":[[5,5],[7,7]]}`)
		assert.Len(t, cs.Updated, 1)
		assert.Equal(t, Vec2{5, 5}, state.Get(1).Pos)
	})

	t.Run("empty rejected", func(t *testing.T) {
		params, err := DecodeParams(OpNodeMove, json.RawMessage(`{}`))
		require.NoError(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, validate(OpNodeMove, params), &verr)
	})

	t.Run("mismatched lengths rejected", func(t *testing.T) {
		params, err := DecodeParams(OpNodeMove, json.RawMessage(`{"nodeIds":[1,2],"positions":[[0,0]]}`))
		require.NoError(t, err)
		assert.Error(t, validate(OpNodeMove, params))
	})
}

func TestNodeDelete(t *testing.T) {
	m := newTestManager()

	t.Run("snapshots deleted nodes", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{3, 4}, Vec2{10, 10})

		cs := applyParams(t, m, state, OpNodeDelete, `{"nodeIds":[1]}`)
		assert.Equal(t, []int64{1}, cs.Removed)
		require.Len(t, cs.DeletedNodes, 1)
		assert.Equal(t, Vec2{3, 4}, cs.DeletedNodes[0].Pos)
		assert.Nil(t, state.Get(1))
	})

	t.Run("prunes deleted ids from groups", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})
		addNode(state, 2, "text", Vec2{0, 0}, Vec2{10, 10})
		group := addNode(state, 3, TypeGroup, Vec2{0, 0}, Vec2{300, 200})
		group.SetChildIDs([]int64{1, 2})

		cs := applyParams(t, m, state, OpNodeDelete, `{"nodeIds":[1]}`)
		assert.Equal(t, []int64{2}, group.ChildIDs())

		updatedIDs := make([]int64, 0, len(cs.Updated))
		for _, n := range cs.Updated {
			updatedIDs = append(updatedIDs, n.ID)
		}
		assert.Contains(t, updatedIDs, int64(3))
	})

	t.Run("missing ids skipped", func(t *testing.T) {
		state := NewState()
		cs := applyParams(t, m, state, OpNodeDelete, `{"nodeIds":[404]}`)
		assert.Empty(t, cs.Removed)
	})
}

func TestNodeResize(t *testing.T) {
	m := newTestManager()

	t.Run("updates aspect ratio", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "media/image", Vec2{0, 0}, Vec2{100, 50})

		applyParams(t, m, state, OpNodeResize, `{"nodeIds":[1],"sizes":[[200,50]]}`)
		node := state.Get(1)
		assert.Equal(t, Vec2{200, 50}, node.Size)
		assert.Equal(t, 4.0, node.AspectRatio)
	})

	t.Run("rotated node keeps its center without explicit position", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, "media/image", Vec2{0, 0}, Vec2{100, 100})
		n.Rotation = 1.0

		applyParams(t, m, state, OpNodeResize, `{"nodeIds":[1],"sizes":[[200,200]]}`)
		// Old center was (50,50); new pos keeps it there.
		assert.Equal(t, Vec2{-50, -50}, state.Get(1).Pos)
	})

	t.Run("explicit positions win", func(t *testing.T) {
		state := NewState()
		n := addNode(state, 1, "media/image", Vec2{0, 0}, Vec2{100, 100})
		n.Rotation = 1.0

		applyParams(t, m, state, OpNodeResize, `{"nodeIds":[1],"sizes":[[200,200]],"positions":[[10,10]]}`)
		assert.Equal(t, Vec2{10, 10}, state.Get(1).Pos)
	})

	t.Run("non-positive size rejected", func(t *testing.T) {
		params, err := DecodeParams(OpNodeResize, json.RawMessage(`{"nodeIds":[1],"sizes":[[0,10]]}`))
		require.NoError(t, err)
		assert.Error(t, validate(OpNodeResize, params))
	})
}

func TestNodePropertyUpdate(t *testing.T) {
	m := newTestManager()

	t.Run("direct attribute writes to envelope", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		applyParams(t, m, state, OpNodePropertyUpdate, `{"nodeId":1,"property":"title","value":"hello"}`)
		node := state.Get(1)
		assert.Equal(t, "hello", node.Title)
		assert.Nil(t, node.Property("title"))
	})

	t.Run("other names write under properties", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		applyParams(t, m, state, OpNodePropertyUpdate, `{"nodeId":1,"property":"fontSize","value":18}`)
		assert.Equal(t, float64(18), state.Get(1).Property("fontSize"))
	})

	t.Run("batch always writes under properties", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		applyParams(t, m, state, OpNodeBatchPropertyUpdate,
			`{"updates":[{"nodeId":1,"property":"title","value":"batched"}]}`)
		node := state.Get(1)
		assert.Empty(t, node.Title)
		assert.Equal(t, "batched", node.Property("title"))
	})
}

func TestNodeReset(t *testing.T) {
	m := newTestManager()

	state := NewState()
	n := addNode(state, 1, "media/image", Vec2{0, 0}, Vec2{300, 100})
	n.Rotation = 0.7

	applyParams(t, m, state, OpNodeReset,
		`{"nodeIds":[1],"resetRotation":true,"resetAspectRatio":true,"values":{"1":1.5}}`)

	assert.Zero(t, n.Rotation)
	assert.Equal(t, Vec2{300, 200}, n.Size)
	assert.Equal(t, 1.5, n.AspectRatio)
}

func TestVideoToggle(t *testing.T) {
	m := newTestManager()

	t.Run("flips when paused absent", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, TypeVideo, Vec2{0, 0}, Vec2{640, 360})

		applyParams(t, m, state, OpVideoToggle, `{"nodeId":1}`)
		assert.Equal(t, true, state.Get(1).Property("paused"))

		applyParams(t, m, state, OpVideoToggle, `{"nodeId":1}`)
		assert.Equal(t, false, state.Get(1).Property("paused"))
	})

	t.Run("ignores non-video nodes", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		cs := applyParams(t, m, state, OpVideoToggle, `{"nodeId":1,"paused":true}`)
		assert.True(t, cs.Empty())
	})
}

func TestNodeDuplicate(t *testing.T) {
	m := newTestManager()

	t.Run("by id clones current state with default offset", func(t *testing.T) {
		state := NewState()
		src := addNode(state, 1, "text", Vec2{10, 10}, Vec2{50, 50})
		src.SetProperty("_operationId", "op-x")

		cs := applyParams(t, m, state, OpNodeDuplicate, `{"nodeIds":[1]}`)
		require.Len(t, cs.Added, 1)
		clone := cs.Added[0]
		assert.NotEqual(t, int64(1), clone.ID)
		assert.Equal(t, Vec2{30, 30}, clone.Pos)
		assert.Nil(t, clone.Property("_operationId"))
	})

	t.Run("by data keeps operation marker and uses zero offset", func(t *testing.T) {
		state := NewState()
		cs := applyParams(t, m, state, OpNodeDuplicate,
			`{"nodeData":[{"id":9,"type":"text","pos":[5,5],"size":[10,10],"properties":{"_operationId":"op-y"}}]}`)

		require.Len(t, cs.Added, 1)
		clone := cs.Added[0]
		assert.Equal(t, Vec2{5, 5}, clone.Pos)
		assert.Equal(t, "op-y", clone.Property("_operationId"))
	})
}

func TestNodePaste(t *testing.T) {
	m := newTestManager()

	state := NewState()
	cs := applyParams(t, m, state, OpNodePaste, `{
		"nodeData": [
			{"id":1,"type":"text","pos":[0,0],"size":[100,100]},
			{"id":2,"type":"text","pos":[100,0],"size":[100,100]},
			{"id":3,"type":"container/group","pos":[0,0],"size":[200,100],
			 "properties":{"childNodes":[1,2],"_pasteChildIndices":[0,1]}}
		],
		"targetPosition": [500,500]
	}`)

	require.Len(t, cs.Added, 3)

	// Clipboard bbox is (0,0)-(200,100), center (100,50); everything shifts
	// by (400,450).
	assert.Equal(t, Vec2{400, 450}, cs.Added[0].Pos)
	assert.Equal(t, Vec2{500, 450}, cs.Added[1].Pos)

	group := cs.Added[2]
	require.True(t, group.IsGroup())
	assert.Equal(t, []int64{cs.Added[0].ID, cs.Added[1].ID}, group.ChildIDs())
	assert.Nil(t, group.Property("_pasteChildIndices"))

	// Fresh ids throughout.
	for _, n := range cs.Added {
		assert.NotContains(t, []int64{1, 2, 3}, n.ID)
	}
}

func TestNodeAlign(t *testing.T) {
	m := newTestManager()

	state := NewState()
	addNode(state, 1, "text", Vec2{13, 7}, Vec2{10, 10})
	addNode(state, 2, "text", Vec2{99, 3}, Vec2{10, 10})

	cs := applyParams(t, m, state, OpNodeAlign,
		`{"nodeIds":[1,2],"axis":"horizontal","positions":[[0,50],[100,50]]}`)

	assert.Len(t, cs.Updated, 2)
	assert.Equal(t, Vec2{0, 50}, state.Get(1).Pos)
	assert.Equal(t, Vec2{100, 50}, state.Get(2).Pos)
}

func TestNodeLayerOrder(t *testing.T) {
	m := newTestManager()

	state := NewState()
	addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})
	addNode(state, 2, "text", Vec2{0, 0}, Vec2{10, 10})

	applyParams(t, m, state, OpNodeLayerOrder,
		`{"nodeIds":[1,2],"direction":"front","zIndexUpdates":{"1":5,"2":6}}`)

	require.NotNil(t, state.Get(1).ZIndex)
	assert.Equal(t, 5.0, *state.Get(1).ZIndex)
	assert.Equal(t, 6.0, *state.Get(2).ZIndex)
}

func TestImageUploadComplete(t *testing.T) {
	m := newTestManager()

	state := NewState()
	img := addNode(state, 1, TypeImage, Vec2{0, 0}, Vec2{100, 100})
	img.SetProperty("hash", "sha-1")
	other := addNode(state, 2, TypeImage, Vec2{0, 0}, Vec2{100, 100})
	other.SetProperty("hash", "sha-2")

	t.Run("binds matching nodes", func(t *testing.T) {
		cs := applyParams(t, m, state, OpImageUploadComplete,
			`{"hash":"sha-1","serverUrl":"/uploads/a.png","serverFilename":"a.png"}`)

		require.Len(t, cs.Updated, 1)
		assert.Equal(t, "/uploads/a.png", img.StringProperty("serverUrl"))
		assert.Equal(t, "a.png", img.StringProperty("serverFilename"))
		assert.Empty(t, other.StringProperty("serverUrl"))
	})

	t.Run("idempotent", func(t *testing.T) {
		cs := applyParams(t, m, state, OpImageUploadComplete,
			`{"hash":"sha-1","serverUrl":"/uploads/a.png"}`)
		assert.Empty(t, cs.Updated)
	})
}

func TestGroupOperations(t *testing.T) {
	m := newTestManager()

	t.Run("create filters missing children", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})

		cs := applyParams(t, m, state, OpGroupCreate, `{"id":10,"pos":[0,0],"childNodes":[1,404]}`)
		require.Len(t, cs.Added, 1)
		assert.Equal(t, []int64{1}, cs.Added[0].ChildIDs())
	})

	t.Run("add and remove member", func(t *testing.T) {
		state := NewState()
		addNode(state, 1, "text", Vec2{0, 0}, Vec2{10, 10})
		group := addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{300, 200})
		group.SetChildIDs([]int64{})

		applyParams(t, m, state, OpGroupAddNode, `{"groupId":10,"nodeId":1}`)
		assert.Equal(t, []int64{1}, group.ChildIDs())

		// Adding again is a no-op.
		cs := applyParams(t, m, state, OpGroupAddNode, `{"groupId":10,"nodeId":1}`)
		assert.True(t, cs.Empty())

		applyParams(t, m, state, OpGroupRemoveNode, `{"groupId":10,"nodeId":1}`)
		assert.Empty(t, group.ChildIDs())
	})

	t.Run("move translates children by delta", func(t *testing.T) {
		state := NewState()
		child := addNode(state, 1, "text", Vec2{10, 10}, Vec2{10, 10})
		group := addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{300, 200})
		group.SetChildIDs([]int64{1})

		cs := applyParams(t, m, state, OpGroupMove, `{"groupId":10,"position":[100,50]}`)
		assert.Equal(t, Vec2{100, 50}, group.Pos)
		assert.Equal(t, Vec2{110, 60}, child.Pos)
		assert.Len(t, cs.Updated, 2)
	})

	t.Run("toggle collapsed saves and restores expanded size", func(t *testing.T) {
		state := NewState()
		group := addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{640, 480})
		group.SetChildIDs([]int64{})

		applyParams(t, m, state, OpGroupToggleCollapsed, `{"groupId":10}`)
		assert.Equal(t, collapsedSize, group.Size)
		assert.Equal(t, true, group.Property("isCollapsed"))

		applyParams(t, m, state, OpGroupToggleCollapsed, `{"groupId":10}`)
		assert.Equal(t, Vec2{640, 480}, group.Size)
		assert.Equal(t, false, group.Property("isCollapsed"))
	})

	t.Run("explicit collapsed matching current is a no-op", func(t *testing.T) {
		state := NewState()
		addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{640, 480})

		cs := applyParams(t, m, state, OpGroupToggleCollapsed, `{"groupId":10,"collapsed":false}`)
		assert.True(t, cs.Empty())
	})

	t.Run("update style", func(t *testing.T) {
		state := NewState()
		group := addNode(state, 10, TypeGroup, Vec2{0, 0}, Vec2{300, 200})

		applyParams(t, m, state, OpGroupUpdateStyle, `{"groupId":10,"style":{"color":"#fff"}}`)
		style, ok := group.Property("style").(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "#fff", style["color"])
	})
}

func TestStateRoundTrip(t *testing.T) {
	state := NewState()
	addNode(state, 1, "text", Vec2{1, 2}, Vec2{10, 20})
	addNode(state, 2, TypeImage, Vec2{3, 4}, Vec2{30, 40})
	state.Version = 7

	blob, err := state.Marshal()
	require.NoError(t, err)

	loaded, err := UnmarshalState(blob)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Version)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, Vec2{1, 2}, loaded.Get(1).Pos)

	// Order is preserved through serialization.
	list := loaded.List()
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
}

func TestTargetIDs(t *testing.T) {
	ids := TargetIDs(OpNodeMove, json.RawMessage(`{"nodeIds":[1,2],"positions":[[0,0],[1,1]]}`))
	assert.Equal(t, []int64{1, 2}, ids)

	ids = TargetIDs(OpGroupAddNode, json.RawMessage(`{"groupId":10,"nodeId":3}`))
	assert.Equal(t, []int64{10, 3}, ids)

	assert.Empty(t, TargetIDs(OpImageUploadComplete, json.RawMessage(`{"hash":"h","serverUrl":"/u"}`)))
}
