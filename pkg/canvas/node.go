// Package canvas holds the authoritative scene state and the closed set of
// operations that mutate it. All scene mutations flow through the Manager;
// nothing else in the server touches node data directly.
package canvas

import "encoding/json"

// Node types.
const (
	TypeImage = "media/image"
	TypeVideo = "media/video"
	TypeText  = "text"
	TypeGroup = "container/group"
)

// Vec2 is a 2D point or size, serialized as a JSON array [x, y].
type Vec2 [2]float64

// Node is one scene element. All node kinds share this envelope; kind-specific
// data (media hashes, group children, styles) lives in Properties.
type Node struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Pos         Vec2           `json:"pos"`
	Size        Vec2           `json:"size"`
	Rotation    float64        `json:"rotation,omitempty"`
	AspectRatio float64        `json:"aspectRatio,omitempty"`
	Title       string         `json:"title,omitempty"`
	Flags       map[string]bool `json:"flags,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`

	// Color-correction attributes live directly on the node rather than in
	// Properties so property updates can address them by name.
	ToneCurve                json.RawMessage `json:"toneCurve,omitempty"`
	Adjustments              json.RawMessage `json:"adjustments,omitempty"`
	ColorBalance             json.RawMessage `json:"colorBalance,omitempty"`
	ToneCurveBypassed        bool            `json:"toneCurveBypassed,omitempty"`
	ColorAdjustmentsBypassed bool            `json:"colorAdjustmentsBypassed,omitempty"`
	ColorBalanceBypassed     bool            `json:"colorBalanceBypassed,omitempty"`
	ZIndex                   *float64        `json:"zIndex,omitempty"`
}

// IsMedia reports whether the node references uploaded content.
func (n *Node) IsMedia() bool {
	return n.Type == TypeImage || n.Type == TypeVideo
}

// IsGroup reports whether the node is a container group.
func (n *Node) IsGroup() bool {
	return n.Type == TypeGroup
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	if n.Flags != nil {
		c.Flags = make(map[string]bool, len(n.Flags))
		for k, v := range n.Flags {
			c.Flags[k] = v
		}
	}
	if n.Properties != nil {
		c.Properties = cloneValue(n.Properties).(map[string]any)
	}
	return &c
}

// cloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// SetProperty writes a key into the node's Properties map, allocating it on
// first use.
func (n *Node) SetProperty(key string, value any) {
	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	n.Properties[key] = value
}

// Property reads a key from Properties. Returns nil when unset.
func (n *Node) Property(key string) any {
	if n.Properties == nil {
		return nil
	}
	return n.Properties[key]
}

// StringProperty reads a string-valued property, or "" when unset or not a
// string.
func (n *Node) StringProperty(key string) string {
	s, _ := n.Property(key).(string)
	return s
}

// ChildIDs returns a group's properties.childNodes as int64 ids. JSON decode
// leaves the list as []any of float64, so both representations are accepted.
func (n *Node) ChildIDs() []int64 {
	raw := n.Property("childNodes")
	switch t := raw.(type) {
	case []int64:
		return t
	case []any:
		ids := make([]int64, 0, len(t))
		for _, v := range t {
			switch num := v.(type) {
			case float64:
				ids = append(ids, int64(num))
			case int64:
				ids = append(ids, num)
			case json.Number:
				if i, err := num.Int64(); err == nil {
					ids = append(ids, i)
				}
			}
		}
		return ids
	default:
		return nil
	}
}

// SetChildIDs replaces a group's properties.childNodes.
func (n *Node) SetChildIDs(ids []int64) {
	n.SetProperty("childNodes", ids)
}
