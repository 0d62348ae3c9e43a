package canvas

import "fmt"

// ValidationError is a synchronous rejection of an operation. It carries the
// client-facing message; the operation caused no state change.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// validate enforces structural requirements only. Node existence is NOT
// checked here: operations referencing missing ids pass validation and the
// missing ids are skipped at apply time.
func validate(t OpType, params any) error {
	switch p := params.(type) {
	case *NodeCreateParams:
		if p.Type == "" {
			return validationErrorf("node_create requires a type")
		}

	case *NodeMoveParams:
		ids, positions := p.Targets()
		if len(ids) == 0 {
			return validationErrorf("node_move requires nodeId or nodeIds")
		}
		if len(ids) != len(positions) {
			return validationErrorf("node_move: %d ids but %d positions", len(ids), len(positions))
		}

	case *NodeDeleteParams:
		if len(p.NodeIDs) == 0 {
			return validationErrorf("node_delete requires nodeIds")
		}

	case *NodeResizeParams:
		if len(p.NodeIDs) == 0 {
			return validationErrorf("node_resize requires nodeIds")
		}
		if len(p.NodeIDs) != len(p.Sizes) {
			return validationErrorf("node_resize: %d ids but %d sizes", len(p.NodeIDs), len(p.Sizes))
		}
		if len(p.Positions) > 0 && len(p.Positions) != len(p.NodeIDs) {
			return validationErrorf("node_resize: %d ids but %d positions", len(p.NodeIDs), len(p.Positions))
		}
		for _, size := range p.Sizes {
			if size[0] <= 0 || size[1] <= 0 {
				return validationErrorf("node_resize: sizes must be positive")
			}
		}

	case *NodeRotateParams:
		ids, angles := p.Targets()
		if len(ids) == 0 {
			return validationErrorf("node_rotate requires nodeId or nodeIds")
		}
		if len(ids) != len(angles) {
			return validationErrorf("node_rotate: %d ids but %d angles", len(ids), len(angles))
		}
		if len(p.Positions) > 0 && len(p.Positions) != len(ids) {
			return validationErrorf("node_rotate: %d ids but %d positions", len(ids), len(p.Positions))
		}

	case *NodePropertyUpdateParams:
		if p.Property == "" {
			return validationErrorf("node_property_update requires a property name")
		}

	case *NodeBatchPropertyUpdateParams:
		if len(p.Updates) == 0 {
			return validationErrorf("node_batch_property_update requires updates")
		}
		for i, u := range p.Updates {
			if u.Property == "" {
				return validationErrorf("node_batch_property_update: update %d missing property name", i)
			}
		}

	case *NodeResetParams:
		if len(p.NodeIDs) == 0 {
			return validationErrorf("node_reset requires nodeIds")
		}
		if !p.ResetRotation && !p.ResetAspectRatio {
			return validationErrorf("node_reset requires resetRotation or resetAspectRatio")
		}

	case *VideoToggleParams:
		// Target kind is checked at apply; a non-video target is skipped.

	case *NodeDuplicateParams:
		if len(p.NodeIDs) == 0 && len(p.NodeData) == 0 {
			return validationErrorf("node_duplicate requires nodeIds or nodeData")
		}

	case *NodePasteParams:
		if len(p.NodeData) == 0 {
			return validationErrorf("node_paste requires nodeData")
		}

	case *NodeAlignParams:
		if len(p.NodeIDs) == 0 {
			return validationErrorf("node_align requires nodeIds")
		}
		switch p.Axis {
		case "horizontal", "vertical", "grid":
		default:
			return validationErrorf("node_align: unknown axis %q", p.Axis)
		}
		if len(p.NodeIDs) != len(p.Positions) {
			return validationErrorf("node_align: %d ids but %d positions", len(p.NodeIDs), len(p.Positions))
		}

	case *NodeLayerOrderParams:
		if len(p.NodeIDs) == 0 {
			return validationErrorf("node_layer_order requires nodeIds")
		}
		switch p.Direction {
		case "up", "down", "front", "back":
		default:
			return validationErrorf("node_layer_order: unknown direction %q", p.Direction)
		}
		if len(p.ZIndexUpdates) == 0 {
			return validationErrorf("node_layer_order requires zIndexUpdates")
		}

	case *ImageUploadCompleteParams:
		if p.Hash == "" {
			return validationErrorf("image_upload_complete requires a hash")
		}
		if p.ServerURL == "" {
			return validationErrorf("image_upload_complete requires a serverUrl")
		}

	case *GroupCreateParams:
		// Position only; children may be attached later.

	case *GroupMemberParams:
		// Existence-tolerant.

	case *GroupMoveParams, *GroupResizeParams, *GroupToggleCollapsedParams:
		// Existence-tolerant.

	case *GroupUpdateStyleParams:
		if len(p.Style) == 0 {
			return validationErrorf("group_update_style requires a style")
		}

	default:
		return fmt.Errorf("no validator for operation type %s", t)
	}

	return nil
}
