package canvas

import (
	"encoding/json"
	"fmt"
)

// OpType identifies one of the closed set of canvas operations.
type OpType string

// Operation catalog.
const (
	OpNodeCreate              OpType = "node_create"
	OpNodeMove                OpType = "node_move"
	OpNodeDelete              OpType = "node_delete"
	OpNodeResize              OpType = "node_resize"
	OpNodeRotate              OpType = "node_rotate"
	OpNodePropertyUpdate      OpType = "node_property_update"
	OpNodeBatchPropertyUpdate OpType = "node_batch_property_update"
	OpNodeReset               OpType = "node_reset"
	OpVideoToggle             OpType = "video_toggle"
	OpNodeDuplicate           OpType = "node_duplicate"
	OpNodePaste               OpType = "node_paste"
	OpNodeAlign               OpType = "node_align"
	OpNodeLayerOrder          OpType = "node_layer_order"
	OpImageUploadComplete     OpType = "image_upload_complete"
	OpGroupCreate             OpType = "group_create"
	OpGroupAddNode            OpType = "group_add_node"
	OpGroupRemoveNode         OpType = "group_remove_node"
	OpGroupMove               OpType = "group_move"
	OpGroupResize             OpType = "group_resize"
	OpGroupToggleCollapsed    OpType = "group_toggle_collapsed"
	OpGroupUpdateStyle        OpType = "group_update_style"
)

// Known reports whether t is in the operation catalog.
func (t OpType) Known() bool {
	switch t {
	case OpNodeCreate, OpNodeMove, OpNodeDelete, OpNodeResize, OpNodeRotate,
		OpNodePropertyUpdate, OpNodeBatchPropertyUpdate, OpNodeReset,
		OpVideoToggle, OpNodeDuplicate, OpNodePaste, OpNodeAlign,
		OpNodeLayerOrder, OpImageUploadComplete,
		OpGroupCreate, OpGroupAddNode, OpGroupRemoveNode, OpGroupMove,
		OpGroupResize, OpGroupToggleCollapsed, OpGroupUpdateStyle:
		return true
	}
	return false
}

// Operation is one client-submitted mutation request. Params and UndoData
// stay raw until dispatch; DecodeParams produces the typed form.
type Operation struct {
	ID            string          `json:"id"`
	Type          OpType          `json:"type"`
	Params        json.RawMessage `json:"params"`
	UndoData      json.RawMessage `json:"undoData,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
}

// ============================================================================
// Typed params, one struct per operation kind
// ============================================================================

// NodeCreateParams creates one node. ID is minted server-side when absent.
type NodeCreateParams struct {
	ID          *int64          `json:"id,omitempty"`
	Type        string          `json:"type"`
	Pos         Vec2            `json:"pos"`
	Size        *Vec2           `json:"size,omitempty"`
	Rotation    float64         `json:"rotation,omitempty"`
	AspectRatio float64         `json:"aspectRatio,omitempty"`
	Title       string          `json:"title,omitempty"`
	Flags       map[string]bool `json:"flags,omitempty"`
	Properties  map[string]any  `json:"properties,omitempty"`
}

// NodeMoveParams accepts the single-node form (nodeId, position) or the
// multi-node form (nodeIds, positions).
type NodeMoveParams struct {
	NodeID    *int64  `json:"nodeId,omitempty"`
	Position  *Vec2   `json:"position,omitempty"`
	NodeIDs   []int64 `json:"nodeIds,omitempty"`
	Positions []Vec2  `json:"positions,omitempty"`
}

// Targets normalizes both forms into parallel id/position slices.
func (p *NodeMoveParams) Targets() ([]int64, []Vec2) {
	if p.NodeID != nil && p.Position != nil {
		return []int64{*p.NodeID}, []Vec2{*p.Position}
	}
	return p.NodeIDs, p.Positions
}

// NodeDeleteParams removes nodes by id.
type NodeDeleteParams struct {
	NodeIDs []int64 `json:"nodeIds"`
}

// NodeResizeParams resizes nodes, optionally repositioning them.
type NodeResizeParams struct {
	NodeIDs   []int64 `json:"nodeIds"`
	Sizes     []Vec2  `json:"sizes"`
	Positions []Vec2  `json:"positions,omitempty"`
}

// NodeRotateParams accepts the single form (nodeId, angle) or the multi
// form (nodeIds, angles, positions?). Angles are radians.
type NodeRotateParams struct {
	NodeID    *int64    `json:"nodeId,omitempty"`
	Angle     *float64  `json:"angle,omitempty"`
	NodeIDs   []int64   `json:"nodeIds,omitempty"`
	Angles    []float64 `json:"angles,omitempty"`
	Positions []Vec2    `json:"positions,omitempty"`
}

// Targets normalizes both forms into parallel id/angle slices.
func (p *NodeRotateParams) Targets() ([]int64, []float64) {
	if p.NodeID != nil && p.Angle != nil {
		return []int64{*p.NodeID}, []float64{*p.Angle}
	}
	return p.NodeIDs, p.Angles
}

// NodePropertyUpdateParams writes one property on one node.
type NodePropertyUpdateParams struct {
	NodeID   int64  `json:"nodeId"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// NodeBatchPropertyUpdateParams writes many properties across nodes.
type NodeBatchPropertyUpdateParams struct {
	Updates []NodePropertyUpdateParams `json:"updates"`
}

// NodeResetParams zeroes rotation and/or restores aspect ratio. Values maps
// node id (as decimal string, JSON object key) to the target aspect ratio.
type NodeResetParams struct {
	NodeIDs          []int64            `json:"nodeIds"`
	ResetRotation    bool               `json:"resetRotation,omitempty"`
	ResetAspectRatio bool               `json:"resetAspectRatio,omitempty"`
	Values           map[string]float64 `json:"values,omitempty"`
}

// VideoToggleParams flips or sets playback state on a video node.
type VideoToggleParams struct {
	NodeID int64 `json:"nodeId"`
	Paused *bool `json:"paused,omitempty"`
}

// NodeDuplicateParams clones nodes, either by id (clone current state) or
// from submitted node data.
type NodeDuplicateParams struct {
	NodeIDs  []int64 `json:"nodeIds,omitempty"`
	NodeData []*Node `json:"nodeData,omitempty"`
	Offset   *Vec2   `json:"offset,omitempty"`
}

// NodePasteParams creates submitted nodes around a target position and
// rewires group membership via properties._pasteChildIndices.
type NodePasteParams struct {
	NodeData       []*Node `json:"nodeData"`
	TargetPosition Vec2    `json:"targetPosition"`
}

// NodeAlignParams assigns client-computed positions to nodes.
type NodeAlignParams struct {
	NodeIDs   []int64 `json:"nodeIds"`
	Axis      string  `json:"axis"` // horizontal, vertical, grid
	Positions []Vec2  `json:"positions"`
}

// NodeLayerOrderParams sets z-index per the provided map (keys are node ids
// as decimal strings).
type NodeLayerOrderParams struct {
	NodeIDs       []int64            `json:"nodeIds"`
	Direction     string             `json:"direction"` // up, down, front, back
	ZIndexUpdates map[string]float64 `json:"zIndexUpdates"`
}

// ImageUploadCompleteParams binds uploaded content to matching image nodes.
type ImageUploadCompleteParams struct {
	Hash           string `json:"hash"`
	ServerURL      string `json:"serverUrl"`
	ServerFilename string `json:"serverFilename,omitempty"`
}

// GroupCreateParams creates a container group.
type GroupCreateParams struct {
	ID         *int64         `json:"id,omitempty"`
	Pos        Vec2           `json:"pos"`
	Size       *Vec2          `json:"size,omitempty"`
	Title      string         `json:"title,omitempty"`
	ChildNodes []int64        `json:"childNodes,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GroupMemberParams adds or removes one node from a group.
type GroupMemberParams struct {
	GroupID int64 `json:"groupId"`
	NodeID  int64 `json:"nodeId"`
}

// GroupMoveParams translates a group and all of its children.
type GroupMoveParams struct {
	GroupID  int64 `json:"groupId"`
	Position Vec2  `json:"position"`
}

// GroupResizeParams resizes a group frame.
type GroupResizeParams struct {
	GroupID  int64 `json:"groupId"`
	Size     Vec2  `json:"size"`
	Position *Vec2 `json:"position,omitempty"`
}

// GroupToggleCollapsedParams collapses or expands a group.
type GroupToggleCollapsedParams struct {
	GroupID   int64 `json:"groupId"`
	Collapsed *bool `json:"collapsed,omitempty"`
}

// GroupUpdateStyleParams replaces a group's style blob.
type GroupUpdateStyleParams struct {
	GroupID int64          `json:"groupId"`
	Style   map[string]any `json:"style"`
}

// DecodeParams decodes raw params into the typed struct for the operation
// kind. Unknown kinds return an error; malformed JSON is a structural
// validation failure.
func DecodeParams(t OpType, raw json.RawMessage) (any, error) {
	var (
		params any
		err    error
	)
	decode := func(dst any) error {
		if len(raw) == 0 {
			return fmt.Errorf("missing params")
		}
		return json.Unmarshal(raw, dst)
	}

	switch t {
	case OpNodeCreate:
		p := &NodeCreateParams{}
		err, params = decode(p), p
	case OpNodeMove:
		p := &NodeMoveParams{}
		err, params = decode(p), p
	case OpNodeDelete:
		p := &NodeDeleteParams{}
		err, params = decode(p), p
	case OpNodeResize:
		p := &NodeResizeParams{}
		err, params = decode(p), p
	case OpNodeRotate:
		p := &NodeRotateParams{}
		err, params = decode(p), p
	case OpNodePropertyUpdate:
		p := &NodePropertyUpdateParams{}
		err, params = decode(p), p
	case OpNodeBatchPropertyUpdate:
		p := &NodeBatchPropertyUpdateParams{}
		err, params = decode(p), p
	case OpNodeReset:
		p := &NodeResetParams{}
		err, params = decode(p), p
	case OpVideoToggle:
		p := &VideoToggleParams{}
		err, params = decode(p), p
	case OpNodeDuplicate:
		p := &NodeDuplicateParams{}
		err, params = decode(p), p
	case OpNodePaste:
		p := &NodePasteParams{}
		err, params = decode(p), p
	case OpNodeAlign:
		p := &NodeAlignParams{}
		err, params = decode(p), p
	case OpNodeLayerOrder:
		p := &NodeLayerOrderParams{}
		err, params = decode(p), p
	case OpImageUploadComplete:
		p := &ImageUploadCompleteParams{}
		err, params = decode(p), p
	case OpGroupCreate:
		p := &GroupCreateParams{}
		err, params = decode(p), p
	case OpGroupAddNode, OpGroupRemoveNode:
		p := &GroupMemberParams{}
		err, params = decode(p), p
	case OpGroupMove:
		p := &GroupMoveParams{}
		err, params = decode(p), p
	case OpGroupResize:
		p := &GroupResizeParams{}
		err, params = decode(p), p
	case OpGroupToggleCollapsed:
		p := &GroupToggleCollapsedParams{}
		err, params = decode(p), p
	case OpGroupUpdateStyle:
		p := &GroupUpdateStyleParams{}
		err, params = decode(p), p
	default:
		return nil, fmt.Errorf("unknown operation type: %s", t)
	}

	if err != nil {
		return nil, fmt.Errorf("invalid params for %s: %w", t, err)
	}
	return params, nil
}
