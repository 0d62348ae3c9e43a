package canvas

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// UndoData is the client-supplied inverse snapshot for one operation. Any
// subset of fields may be present; id-keyed maps use decimal-string keys
// because JSON object keys are strings.
type UndoData struct {
	DeletedNodes         []*Node                   `json:"deletedNodes,omitempty"`
	CreatedNodeIDs       []int64                   `json:"createdNodeIds,omitempty"`
	PreviousPositions    map[string]Vec2           `json:"previousPositions,omitempty"`
	PreviousSizes        map[string]Vec2           `json:"previousSizes,omitempty"`
	PreviousRotations    map[string]float64        `json:"previousRotations,omitempty"`
	PreviousAspectRatios map[string]float64        `json:"previousAspectRatios,omitempty"`
	PreviousProperties   map[string]map[string]any `json:"previousProperties,omitempty"`
	PreviousState        map[string]map[string]any `json:"previousState,omitempty"`
	Nodes                []UndoMove                `json:"nodes,omitempty"`
	NodeID               *int64                    `json:"nodeId,omitempty"`
}

// UndoMove is the array form of a position restore.
type UndoMove struct {
	ID          int64 `json:"id"`
	OldPosition Vec2  `json:"oldPosition"`
}

// IsZero reports whether no inverse information was supplied.
func (u *UndoData) IsZero() bool {
	return len(u.DeletedNodes) == 0 && len(u.CreatedNodeIDs) == 0 &&
		len(u.PreviousPositions) == 0 && len(u.PreviousSizes) == 0 &&
		len(u.PreviousRotations) == 0 && len(u.PreviousAspectRatios) == 0 &&
		len(u.PreviousProperties) == 0 && len(u.PreviousState) == 0 &&
		len(u.Nodes) == 0 && u.NodeID == nil
}

// DecodeUndoData parses a raw undoData payload. Empty input yields a zero
// value, not an error.
func DecodeUndoData(raw json.RawMessage) (*UndoData, error) {
	ud := &UndoData{}
	if len(raw) == 0 || string(raw) == "null" {
		return ud, nil
	}
	if err := json.Unmarshal(raw, ud); err != nil {
		return nil, fmt.Errorf("invalid undoData: %w", err)
	}
	return ud, nil
}

// applyUndoData restores state from a supplied inverse snapshot, merging
// the effects into the change set.
func applyUndoData(state *State, ud *UndoData, cs *ChangeSet) {
	for _, snapshot := range ud.DeletedNodes {
		node := snapshot.Clone()
		state.Add(node)
		cs.Added = append(cs.Added, node)
	}

	var removed []int64
	for _, id := range ud.CreatedNodeIDs {
		if state.Remove(id) != nil {
			removed = append(removed, id)
		}
	}
	if ud.NodeID != nil {
		if state.Remove(*ud.NodeID) != nil {
			removed = append(removed, *ud.NodeID)
		}
	}
	if len(removed) > 0 {
		cs.Removed = append(cs.Removed, removed...)
		pruneFromGroups(state, removed, cs)
	}

	forEachByKey(state, ud.PreviousPositions, cs, func(n *Node, pos Vec2) {
		n.Pos = pos
	})
	forEachByKey(state, ud.PreviousSizes, cs, func(n *Node, size Vec2) {
		n.Size = size
	})
	forEachByKey(state, ud.PreviousRotations, cs, func(n *Node, angle float64) {
		n.Rotation = angle
	})
	forEachByKey(state, ud.PreviousAspectRatios, cs, func(n *Node, ratio float64) {
		n.AspectRatio = ratio
	})
	forEachByKey(state, ud.PreviousProperties, cs, func(n *Node, props map[string]any) {
		for k, v := range props {
			n.SetProperty(k, v)
		}
	})
	forEachByKey(state, ud.PreviousState, cs, func(n *Node, partial map[string]any) {
		mergePartialNode(n, partial)
	})

	for _, mv := range ud.Nodes {
		node := state.Get(mv.ID)
		if node == nil {
			continue
		}
		node.Pos = mv.OldPosition
		cs.markUpdated(node)
	}
}

// forEachByKey applies fn to every existing node named by an id-keyed map.
func forEachByKey[V any](state *State, m map[string]V, cs *ChangeSet, fn func(*Node, V)) {
	for key, value := range m {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		node := state.Get(id)
		if node == nil {
			continue
		}
		fn(node, value)
		cs.markUpdated(node)
	}
}

// mergePartialNode shallow-merges a partial node object onto the node.
// Envelope attributes are applied by name; a properties key merges per-key
// into the node's Properties.
func mergePartialNode(n *Node, partial map[string]any) {
	for key, value := range partial {
		switch key {
		case "pos":
			if v, ok := decodeVec2(value); ok {
				n.Pos = v
			}
		case "size":
			if v, ok := decodeVec2(value); ok {
				n.Size = v
			}
		case "rotation":
			if f, ok := value.(float64); ok {
				n.Rotation = f
			}
		case "aspectRatio":
			if f, ok := value.(float64); ok {
				n.AspectRatio = f
			}
		case "title":
			if s, ok := value.(string); ok {
				n.Title = s
			}
		case "zIndex":
			if f, ok := value.(float64); ok {
				zv := f
				n.ZIndex = &zv
			}
		case "properties":
			if props, ok := value.(map[string]any); ok {
				for k, v := range props {
					n.SetProperty(k, v)
				}
			}
		default:
			n.SetProperty(key, value)
		}
	}
}

// fallbackInverse inverts an operation without client-supplied undo data.
// Only a few kinds have a derivable inverse; the rest report false and the
// undo skips them.
func (m *Manager) fallbackInverse(state *State, t OpType, rawParams json.RawMessage, cs *ChangeSet) bool {
	params, err := DecodeParams(t, rawParams)
	if err != nil {
		return false
	}

	switch p := params.(type) {
	case *NodeCreateParams:
		// Without undo data the created id is only known when the client
		// supplied it.
		if p.ID == nil {
			return false
		}
		if state.Remove(*p.ID) != nil {
			cs.Removed = append(cs.Removed, *p.ID)
			pruneFromGroups(state, []int64{*p.ID}, cs)
		}
		return true

	case *VideoToggleParams:
		applyVideoToggle(state, &VideoToggleParams{NodeID: p.NodeID}, cs)
		return true

	case *GroupToggleCollapsedParams:
		applyGroupToggleCollapsed(state, &GroupToggleCollapsedParams{GroupID: p.GroupID}, cs)
		return true
	}

	return false
}
