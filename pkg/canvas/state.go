package canvas

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the in-memory scene for one canvas. It is the single source of
// truth while loaded; the persisted blob is a write-through snapshot taken
// after every successful operation.
//
// Nodes is keyed by id; order preserves creation order so serialization is
// deterministic and clients can rely on stable iteration.
type State struct {
	Nodes        map[int64]*Node
	Version      int64
	LastModified time.Time

	order []int64
}

// NewState returns an empty scene at version 0.
func NewState() *State {
	return &State{
		Nodes: make(map[int64]*Node),
	}
}

// Get returns the node with the given id, or nil.
func (s *State) Get(id int64) *Node {
	return s.Nodes[id]
}

// Add appends a node to the scene. Re-adding an existing id overwrites the
// node in place without duplicating its order slot.
func (s *State) Add(n *Node) {
	if _, exists := s.Nodes[n.ID]; !exists {
		s.order = append(s.order, n.ID)
	}
	s.Nodes[n.ID] = n
}

// Remove deletes a node by id and returns it, or nil when absent.
func (s *State) Remove(id int64) *Node {
	n, ok := s.Nodes[id]
	if !ok {
		return nil
	}
	delete(s.Nodes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return n
}

// List returns the nodes in creation order.
func (s *State) List() []*Node {
	nodes := make([]*Node, 0, len(s.Nodes))
	for _, id := range s.order {
		if n, ok := s.Nodes[id]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Len returns the number of nodes in the scene.
func (s *State) Len() int {
	return len(s.Nodes)
}

// Groups returns every container group in creation order.
func (s *State) Groups() []*Node {
	var groups []*Node
	for _, n := range s.List() {
		if n.IsGroup() {
			groups = append(groups, n)
		}
	}
	return groups
}

// stateBlob is the persisted form: {nodes: Node[], version: int}.
type stateBlob struct {
	Nodes   []*Node `json:"nodes"`
	Version int64   `json:"version"`
}

// Marshal serializes the scene for persistence.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(stateBlob{
		Nodes:   s.List(),
		Version: s.Version,
	})
}

// UnmarshalState loads a scene from a persisted blob. An empty blob yields
// an empty scene at version 0.
func UnmarshalState(data []byte) (*State, error) {
	state := NewState()
	if len(data) == 0 {
		return state, nil
	}
	var blob stateBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode canvas data: %w", err)
	}
	state.Version = blob.Version
	for _, n := range blob.Nodes {
		state.Add(n)
	}
	return state, nil
}

// ChangeSet describes the delta produced by one applied operation.
// DeletedNodes carries full pre-deletion snapshots so deletes can be undone.
type ChangeSet struct {
	Added        []*Node `json:"added,omitempty"`
	Updated      []*Node `json:"updated,omitempty"`
	Removed      []int64 `json:"removed,omitempty"`
	DeletedNodes []*Node `json:"deletedNodes,omitempty"`
}

// Empty reports whether the change set carries no changes.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// markUpdated appends a node to Updated unless it is already present.
func (c *ChangeSet) markUpdated(n *Node) {
	for _, u := range c.Updated {
		if u.ID == n.ID {
			return
		}
	}
	c.Updated = append(c.Updated, n)
}
