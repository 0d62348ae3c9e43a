package canvas

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// directAttributes are the property names that node_property_update writes
// onto the node envelope itself; everything else goes under Properties.
var directAttributes = map[string]bool{
	"title":                    true,
	"rotation":                 true,
	"aspectRatio":              true,
	"toneCurve":                true,
	"toneCurveBypassed":        true,
	"colorAdjustmentsBypassed": true,
	"adjustments":              true,
	"colorBalance":             true,
	"colorBalanceBypassed":     true,
}

// apply mutates the scene for one validated operation and returns the
// resulting change set. Missing node ids are silently skipped: the operation
// still succeeds with a partial or empty change set.
func (m *Manager) apply(state *State, t OpType, params any) (*ChangeSet, error) {
	cs := &ChangeSet{}

	switch p := params.(type) {
	case *NodeCreateParams:
		m.applyNodeCreate(state, p, cs)
	case *NodeMoveParams:
		applyNodeMove(state, p, cs)
	case *NodeDeleteParams:
		applyNodeDelete(state, p.NodeIDs, cs)
	case *NodeResizeParams:
		applyNodeResize(state, p, cs)
	case *NodeRotateParams:
		applyNodeRotate(state, p, cs)
	case *NodePropertyUpdateParams:
		applyPropertyUpdate(state, p, false, cs)
	case *NodeBatchPropertyUpdateParams:
		// Batch updates always write under Properties, even for names in
		// the direct-attribute set.
		for i := range p.Updates {
			applyPropertyUpdate(state, &p.Updates[i], true, cs)
		}
	case *NodeResetParams:
		applyNodeReset(state, p, cs)
	case *VideoToggleParams:
		applyVideoToggle(state, p, cs)
	case *NodeDuplicateParams:
		m.applyNodeDuplicate(state, p, cs)
	case *NodePasteParams:
		m.applyNodePaste(state, p, cs)
	case *NodeAlignParams:
		applyNodeAlign(state, p, cs)
	case *NodeLayerOrderParams:
		applyNodeLayerOrder(state, p, cs)
	case *ImageUploadCompleteParams:
		applyImageUploadComplete(state, p, cs)
	case *GroupCreateParams:
		m.applyGroupCreate(state, p, cs)
	case *GroupMemberParams:
		applyGroupMember(state, p, t == OpGroupAddNode, cs)
	case *GroupMoveParams:
		applyGroupMove(state, p, cs)
	case *GroupResizeParams:
		applyGroupResize(state, p, cs)
	case *GroupToggleCollapsedParams:
		applyGroupToggleCollapsed(state, p, cs)
	case *GroupUpdateStyleParams:
		applyGroupUpdateStyle(state, p, cs)
	default:
		return nil, fmt.Errorf("no applier for operation type %s", t)
	}

	return cs, nil
}

func (m *Manager) applyNodeCreate(state *State, p *NodeCreateParams, cs *ChangeSet) {
	node := &Node{
		Type:        p.Type,
		Pos:         p.Pos,
		Rotation:    p.Rotation,
		AspectRatio: p.AspectRatio,
		Title:       p.Title,
		Flags:       p.Flags,
		Properties:  p.Properties,
	}
	if p.ID != nil {
		node.ID = *p.ID
	} else {
		node.ID = m.ids.next()
	}
	if p.Size != nil {
		node.Size = *p.Size
	}
	stripInlineSrc(node)
	pruneMissingChildren(state, node)

	state.Add(node)
	cs.Added = append(cs.Added, node)
}

// pruneMissingChildren drops childNodes entries referencing ids absent from
// the scene; childNodes must never reference missing nodes.
func pruneMissingChildren(state *State, n *Node) {
	if !n.IsGroup() {
		return
	}
	children := n.ChildIDs()
	kept := make([]int64, 0, len(children))
	for _, id := range children {
		if state.Get(id) != nil {
			kept = append(kept, id)
		}
	}
	if len(kept) != len(children) {
		n.SetChildIDs(kept)
	}
}

// stripInlineSrc drops properties.src when it carries an inline data: URL.
// Media content must reference uploaded files by hash/serverUrl.
func stripInlineSrc(n *Node) {
	if !n.IsMedia() {
		return
	}
	if src := n.StringProperty("src"); strings.HasPrefix(src, "data:") {
		delete(n.Properties, "src")
	}
}

func applyNodeMove(state *State, p *NodeMoveParams, cs *ChangeSet) {
	ids, positions := p.Targets()
	for i, id := range ids {
		node := state.Get(id)
		if node == nil {
			continue
		}
		node.Pos = positions[i]
		cs.markUpdated(node)
	}
}

func applyNodeDelete(state *State, ids []int64, cs *ChangeSet) {
	for _, id := range ids {
		node := state.Remove(id)
		if node == nil {
			continue
		}
		cs.Removed = append(cs.Removed, id)
		cs.DeletedNodes = append(cs.DeletedNodes, node)
	}
	pruneFromGroups(state, cs.Removed, cs)
}

// pruneFromGroups removes deleted ids from every group's childNodes and
// marks the groups updated.
func pruneFromGroups(state *State, removed []int64, cs *ChangeSet) {
	if len(removed) == 0 {
		return
	}
	gone := make(map[int64]bool, len(removed))
	for _, id := range removed {
		gone[id] = true
	}
	for _, group := range state.Groups() {
		children := group.ChildIDs()
		kept := children[:0:0]
		for _, id := range children {
			if !gone[id] {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(children) {
			group.SetChildIDs(kept)
			cs.markUpdated(group)
		}
	}
}

func applyNodeResize(state *State, p *NodeResizeParams, cs *ChangeSet) {
	for i, id := range p.NodeIDs {
		node := state.Get(id)
		if node == nil {
			continue
		}
		oldPos, oldSize := node.Pos, node.Size
		node.Size = p.Sizes[i]

		switch {
		case len(p.Positions) > i:
			node.Pos = p.Positions[i]
		case node.Rotation != 0:
			// No explicit position for a rotated node: keep the geometric
			// center fixed so the node does not drift while resizing.
			center := Vec2{oldPos[0] + oldSize[0]/2, oldPos[1] + oldSize[1]/2}
			node.Pos = Vec2{center[0] - node.Size[0]/2, center[1] - node.Size[1]/2}
		}

		if node.Size[1] != 0 {
			node.AspectRatio = node.Size[0] / node.Size[1]
		}
		cs.markUpdated(node)
	}
}

func applyNodeRotate(state *State, p *NodeRotateParams, cs *ChangeSet) {
	ids, angles := p.Targets()
	for i, id := range ids {
		node := state.Get(id)
		if node == nil {
			continue
		}
		node.Rotation = angles[i]
		if len(p.Positions) > i {
			node.Pos = p.Positions[i]
		}
		cs.markUpdated(node)
	}
}

// applyPropertyUpdate writes one named property. forceProps routes every
// name under Properties (the batch form); otherwise names in the
// direct-attribute set write to the node envelope.
func applyPropertyUpdate(state *State, p *NodePropertyUpdateParams, forceProps bool, cs *ChangeSet) {
	node := state.Get(p.NodeID)
	if node == nil {
		return
	}

	if forceProps || !directAttributes[p.Property] {
		node.SetProperty(p.Property, p.Value)
		cs.markUpdated(node)
		return
	}

	switch p.Property {
	case "title":
		if s, ok := p.Value.(string); ok {
			node.Title = s
		}
	case "rotation":
		if f, ok := p.Value.(float64); ok {
			node.Rotation = f
		}
	case "aspectRatio":
		if f, ok := p.Value.(float64); ok {
			node.AspectRatio = f
		}
	case "toneCurveBypassed":
		if b, ok := p.Value.(bool); ok {
			node.ToneCurveBypassed = b
		}
	case "colorAdjustmentsBypassed":
		if b, ok := p.Value.(bool); ok {
			node.ColorAdjustmentsBypassed = b
		}
	case "colorBalanceBypassed":
		if b, ok := p.Value.(bool); ok {
			node.ColorBalanceBypassed = b
		}
	case "toneCurve":
		node.ToneCurve = marshalRaw(p.Value)
	case "adjustments":
		node.Adjustments = marshalRaw(p.Value)
	case "colorBalance":
		node.ColorBalance = marshalRaw(p.Value)
	}
	cs.markUpdated(node)
}

func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func applyNodeReset(state *State, p *NodeResetParams, cs *ChangeSet) {
	for _, id := range p.NodeIDs {
		node := state.Get(id)
		if node == nil {
			continue
		}
		if p.ResetRotation {
			node.Rotation = 0
		}
		if p.ResetAspectRatio {
			if target, ok := p.Values[strconv.FormatInt(id, 10)]; ok && target > 0 {
				node.Size[1] = node.Size[0] / target
				node.AspectRatio = target
			}
		}
		cs.markUpdated(node)
	}
}

func applyVideoToggle(state *State, p *VideoToggleParams, cs *ChangeSet) {
	node := state.Get(p.NodeID)
	if node == nil || node.Type != TypeVideo {
		return
	}
	if p.Paused != nil {
		node.SetProperty("paused", *p.Paused)
	} else {
		cur, _ := node.Property("paused").(bool)
		node.SetProperty("paused", !cur)
	}
	cs.markUpdated(node)
}

func (m *Manager) applyNodeDuplicate(state *State, p *NodeDuplicateParams, cs *ChangeSet) {
	if len(p.NodeIDs) > 0 {
		offset := Vec2{20, 20}
		if p.Offset != nil {
			offset = *p.Offset
		}
		for _, id := range p.NodeIDs {
			src := state.Get(id)
			if src == nil {
				continue
			}
			clone := src.Clone()
			clone.ID = m.ids.next()
			clone.Pos = Vec2{src.Pos[0] + offset[0], src.Pos[1] + offset[1]}
			// The id-based path clones current state only; the submitting
			// client's _operationId marker is not carried over.
			if clone.Properties != nil {
				delete(clone.Properties, "_operationId")
			}
			state.Add(clone)
			cs.Added = append(cs.Added, clone)
		}
		return
	}

	offset := Vec2{0, 0}
	if p.Offset != nil {
		offset = *p.Offset
	}
	for _, src := range p.NodeData {
		clone := src.Clone()
		clone.ID = m.ids.next()
		clone.Pos = Vec2{src.Pos[0] + offset[0], src.Pos[1] + offset[1]}
		stripInlineSrc(clone)
		pruneMissingChildren(state, clone)
		state.Add(clone)
		cs.Added = append(cs.Added, clone)
	}
}

func (m *Manager) applyNodePaste(state *State, p *NodePasteParams, cs *ChangeSet) {
	// Clipboard bounding box; pasted content is centered on targetPosition.
	minX, minY := p.NodeData[0].Pos[0], p.NodeData[0].Pos[1]
	maxX, maxY := minX, minY
	for _, n := range p.NodeData {
		minX = min(minX, n.Pos[0])
		minY = min(minY, n.Pos[1])
		maxX = max(maxX, n.Pos[0]+n.Size[0])
		maxY = max(maxY, n.Pos[1]+n.Size[1])
	}
	offset := Vec2{
		p.TargetPosition[0] - (minX+maxX)/2,
		p.TargetPosition[1] - (minY+maxY)/2,
	}

	// Pass 1: create every node with a fresh id. Groups start with empty
	// children; membership is rewired in pass 2 once all ids exist.
	created := make([]*Node, len(p.NodeData))
	for i, src := range p.NodeData {
		clone := src.Clone()
		clone.ID = m.ids.next()
		clone.Pos = Vec2{src.Pos[0] + offset[0], src.Pos[1] + offset[1]}
		stripInlineSrc(clone)
		if clone.IsGroup() {
			clone.SetChildIDs([]int64{})
		}
		state.Add(clone)
		created[i] = clone
		cs.Added = append(cs.Added, clone)
	}

	// Pass 2: _pasteChildIndices holds indices into the submitted array;
	// translate them to the freshly minted ids.
	for i, src := range p.NodeData {
		clone := created[i]
		if clone.Properties != nil {
			delete(clone.Properties, "_pasteChildIndices")
		}
		if !clone.IsGroup() {
			continue
		}
		indices, ok := src.Property("_pasteChildIndices").([]any)
		if !ok {
			continue
		}
		children := make([]int64, 0, len(indices))
		for _, idx := range indices {
			f, ok := idx.(float64)
			if !ok {
				continue
			}
			if j := int(f); j >= 0 && j < len(created) {
				children = append(children, created[j].ID)
			}
		}
		clone.SetChildIDs(children)
	}
}

func applyNodeAlign(state *State, p *NodeAlignParams, cs *ChangeSet) {
	// The client has already computed the final layout for the axis; the
	// server just assigns positions.
	for i, id := range p.NodeIDs {
		node := state.Get(id)
		if node == nil {
			continue
		}
		node.Pos = p.Positions[i]
		cs.markUpdated(node)
	}
}

func applyNodeLayerOrder(state *State, p *NodeLayerOrderParams, cs *ChangeSet) {
	for _, id := range p.NodeIDs {
		node := state.Get(id)
		if node == nil {
			continue
		}
		if z, ok := p.ZIndexUpdates[strconv.FormatInt(id, 10)]; ok {
			zv := z
			node.ZIndex = &zv
			cs.markUpdated(node)
		}
	}
}

func applyImageUploadComplete(state *State, p *ImageUploadCompleteParams, cs *ChangeSet) {
	// Exact hash equality only; nodes that already carry a serverUrl are
	// left alone, which makes repeated application a no-op.
	for _, node := range state.List() {
		if node.Type != TypeImage {
			continue
		}
		if node.StringProperty("hash") != p.Hash || node.StringProperty("serverUrl") != "" {
			continue
		}
		node.SetProperty("serverUrl", p.ServerURL)
		if p.ServerFilename != "" {
			node.SetProperty("serverFilename", p.ServerFilename)
		}
		cs.markUpdated(node)
	}
}

func (m *Manager) applyGroupCreate(state *State, p *GroupCreateParams, cs *ChangeSet) {
	node := &Node{
		Type:       TypeGroup,
		Pos:        p.Pos,
		Title:      p.Title,
		Properties: p.Properties,
	}
	if p.ID != nil {
		node.ID = *p.ID
	} else {
		node.ID = m.ids.next()
	}
	if p.Size != nil {
		node.Size = *p.Size
	}

	children := p.ChildNodes
	if children == nil {
		children = []int64{}
	}
	// Only admit children that exist; childNodes must never reference
	// missing ids.
	kept := make([]int64, 0, len(children))
	for _, id := range children {
		if state.Get(id) != nil {
			kept = append(kept, id)
		}
	}
	node.SetChildIDs(kept)

	state.Add(node)
	cs.Added = append(cs.Added, node)
}

func applyGroupMember(state *State, p *GroupMemberParams, add bool, cs *ChangeSet) {
	group := state.Get(p.GroupID)
	if group == nil || !group.IsGroup() {
		return
	}
	children := group.ChildIDs()

	if add {
		if state.Get(p.NodeID) == nil {
			return
		}
		for _, id := range children {
			if id == p.NodeID {
				return
			}
		}
		group.SetChildIDs(append(children, p.NodeID))
		cs.markUpdated(group)
		return
	}

	kept := children[:0:0]
	for _, id := range children {
		if id != p.NodeID {
			kept = append(kept, id)
		}
	}
	if len(kept) != len(children) {
		group.SetChildIDs(kept)
		cs.markUpdated(group)
	}
}

func applyGroupMove(state *State, p *GroupMoveParams, cs *ChangeSet) {
	group := state.Get(p.GroupID)
	if group == nil || !group.IsGroup() {
		return
	}
	delta := Vec2{p.Position[0] - group.Pos[0], p.Position[1] - group.Pos[1]}
	group.Pos = p.Position
	cs.markUpdated(group)

	for _, childID := range group.ChildIDs() {
		child := state.Get(childID)
		if child == nil {
			continue
		}
		child.Pos = Vec2{child.Pos[0] + delta[0], child.Pos[1] + delta[1]}
		cs.markUpdated(child)
	}
}

func applyGroupResize(state *State, p *GroupResizeParams, cs *ChangeSet) {
	group := state.Get(p.GroupID)
	if group == nil || !group.IsGroup() {
		return
	}
	group.Size = p.Size
	if p.Position != nil {
		group.Pos = *p.Position
	}
	if group.Size[1] != 0 {
		group.AspectRatio = group.Size[0] / group.Size[1]
	}
	cs.markUpdated(group)
}

// collapsedSize is the frame a collapsed group shrinks to.
var collapsedSize = Vec2{200, 40}

func applyGroupToggleCollapsed(state *State, p *GroupToggleCollapsedParams, cs *ChangeSet) {
	group := state.Get(p.GroupID)
	if group == nil || !group.IsGroup() {
		return
	}

	current, _ := group.Property("isCollapsed").(bool)
	target := !current
	if p.Collapsed != nil {
		target = *p.Collapsed
	}
	if target == current {
		return
	}

	if target {
		group.SetProperty("expandedSize", []float64{group.Size[0], group.Size[1]})
		group.Size = collapsedSize
	} else if expanded := group.Property("expandedSize"); expanded != nil {
		if size, ok := decodeVec2(expanded); ok {
			group.Size = size
		}
	}
	group.SetProperty("isCollapsed", target)
	cs.markUpdated(group)
}

func applyGroupUpdateStyle(state *State, p *GroupUpdateStyleParams, cs *ChangeSet) {
	group := state.Get(p.GroupID)
	if group == nil || !group.IsGroup() {
		return
	}
	group.SetProperty("style", p.Style)
	cs.markUpdated(group)
}

// decodeVec2 reads a 2-element numeric array out of JSON-shaped data.
func decodeVec2(v any) (Vec2, bool) {
	switch t := v.(type) {
	case []float64:
		if len(t) == 2 {
			return Vec2{t[0], t[1]}, true
		}
	case []any:
		if len(t) == 2 {
			x, xok := t[0].(float64)
			y, yok := t[1].(float64)
			if xok && yok {
				return Vec2{x, y}, true
			}
		}
	case Vec2:
		return t, true
	}
	return Vec2{}, false
}
