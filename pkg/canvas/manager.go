package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/store"
)

// Result is the outcome of one successful state mutation.
type Result struct {
	StateVersion int64      `json:"stateVersion"`
	Changes      *ChangeSet `json:"changes"`
}

// Manager owns every loaded scene. It is the only component that mutates
// node data; callers get change sets back, never direct scene references.
//
// Mutations on one canvas are serialized by that canvas's lock: an operation
// runs to completion (including the persistence write) before the next one
// on the same canvas starts. Different canvases mutate in parallel.
type Manager struct {
	store *store.GORMStore
	ids   idMinter

	mu      sync.Mutex
	entries map[string]*canvasEntry
}

type canvasEntry struct {
	mu    sync.Mutex
	state *State
}

// NewManager creates a Manager backed by the given store.
func NewManager(st *store.GORMStore) *Manager {
	return &Manager{
		store:   st,
		entries: make(map[string]*canvasEntry),
	}
}

func (m *Manager) entry(canvasID string) *canvasEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[canvasID]
	if !ok {
		e = &canvasEntry{}
		m.entries[canvasID] = e
	}
	return e
}

// loadLocked ensures the entry's state is resident. Caller holds e.mu.
func (m *Manager) loadLocked(ctx context.Context, canvasID string, e *canvasEntry) error {
	if e.state != nil {
		return nil
	}
	canvas, err := m.store.GetCanvas(ctx, canvasID)
	if err != nil {
		return err
	}
	state, err := UnmarshalState(canvas.CanvasData)
	if err != nil {
		return fmt.Errorf("canvas %s: %w", canvasID, err)
	}
	e.state = state
	logger.Debug("canvas state loaded",
		logger.CanvasID(canvasID),
		logger.StateVersion(state.Version),
		logger.NodeCount(state.Len()))
	return nil
}

// persistLocked writes the scene blob. On failure the cached state is
// dropped so the next access reloads the last persisted version; the
// in-memory mutation never outlives a failed write.
func (m *Manager) persistLocked(ctx context.Context, canvasID string, e *canvasEntry) error {
	blob, err := e.state.Marshal()
	if err != nil {
		e.state = nil
		return fmt.Errorf("failed to serialize canvas %s: %w", canvasID, err)
	}
	if err := m.store.SaveCanvasData(ctx, canvasID, blob); err != nil {
		e.state = nil
		return fmt.Errorf("failed to persist canvas %s: %w", canvasID, err)
	}
	return nil
}

// Execute validates and applies one operation, bumps the state version and
// persists the scene. A *ValidationError return means the operation was
// rejected with no state change; any other error is fatal for the operation.
func (m *Manager) Execute(ctx context.Context, canvasID string, op *Operation) (*Result, error) {
	if !op.Type.Known() {
		return nil, validationErrorf("unknown operation type: %s", op.Type)
	}
	params, err := DecodeParams(op.Type, op.Params)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := validate(op.Type, params); err != nil {
		return nil, err
	}

	e := m.entry(canvasID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.loadLocked(ctx, canvasID, e); err != nil {
		return nil, err
	}

	changes, err := m.apply(e.state, op.Type, params)
	if err != nil {
		return nil, err
	}

	e.state.Version++
	e.state.LastModified = time.Now()

	if err := m.persistLocked(ctx, canvasID, e); err != nil {
		return nil, err
	}

	return &Result{StateVersion: e.state.Version, Changes: changes}, nil
}

// ApplyInverse undoes a batch of operations as one unit: the operations are
// inverted in reverse order, the version bumps exactly once and the scene
// persists once. Operations with no usable inverse are skipped and returned
// in skipped; they do not fail the undo.
func (m *Manager) ApplyInverse(ctx context.Context, canvasID string, ops []*Operation) (*Result, []string, error) {
	e := m.entry(canvasID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.loadLocked(ctx, canvasID, e); err != nil {
		return nil, nil, err
	}

	changes := &ChangeSet{}
	var skipped []string
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		ud, err := DecodeUndoData(op.UndoData)
		if err != nil {
			logger.Warn("undo data unreadable, skipping operation",
				logger.CanvasID(canvasID),
				logger.OperationID(op.ID),
				logger.Err(err))
			skipped = append(skipped, op.ID)
			continue
		}
		if !ud.IsZero() {
			applyUndoData(e.state, ud, changes)
			continue
		}
		if !m.fallbackInverse(e.state, op.Type, op.Params, changes) {
			logger.Warn("no inverse available, skipping operation",
				logger.CanvasID(canvasID),
				logger.OperationID(op.ID),
				logger.Operation(string(op.Type)))
			skipped = append(skipped, op.ID)
		}
	}

	e.state.Version++
	e.state.LastModified = time.Now()

	if err := m.persistLocked(ctx, canvasID, e); err != nil {
		return nil, nil, err
	}

	return &Result{StateVersion: e.state.Version, Changes: changes}, skipped, nil
}

// Reapply redoes a batch of operations in their original order as one unit:
// one version bump, one persistence write.
func (m *Manager) Reapply(ctx context.Context, canvasID string, ops []*Operation) (*Result, error) {
	e := m.entry(canvasID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.loadLocked(ctx, canvasID, e); err != nil {
		return nil, err
	}

	changes := &ChangeSet{}
	for _, op := range ops {
		params, err := DecodeParams(op.Type, op.Params)
		if err != nil {
			logger.Warn("stored params unreadable, skipping redo of operation",
				logger.CanvasID(canvasID),
				logger.OperationID(op.ID),
				logger.Err(err))
			continue
		}
		cs, err := m.apply(e.state, op.Type, params)
		if err != nil {
			return nil, err
		}
		changes.Added = append(changes.Added, cs.Added...)
		changes.Removed = append(changes.Removed, cs.Removed...)
		changes.DeletedNodes = append(changes.DeletedNodes, cs.DeletedNodes...)
		for _, n := range cs.Updated {
			changes.markUpdated(n)
		}
	}

	e.state.Version++
	e.state.LastModified = time.Now()

	if err := m.persistLocked(ctx, canvasID, e); err != nil {
		return nil, err
	}

	return &Result{StateVersion: e.state.Version, Changes: changes}, nil
}

// FullState returns a snapshot of the scene: every node (cloned, so callers
// cannot mutate live state) and the current version.
func (m *Manager) FullState(ctx context.Context, canvasID string) ([]*Node, int64, error) {
	e := m.entry(canvasID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.loadLocked(ctx, canvasID, e); err != nil {
		return nil, 0, err
	}

	nodes := make([]*Node, 0, e.state.Len())
	for _, n := range e.state.List() {
		nodes = append(nodes, n.Clone())
	}
	return nodes, e.state.Version, nil
}

// Version returns the current state version without touching node data.
func (m *Manager) Version(ctx context.Context, canvasID string) (int64, error) {
	e := m.entry(canvasID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.loadLocked(ctx, canvasID, e); err != nil {
		return 0, err
	}
	return e.state.Version, nil
}

// Evict drops a cached scene, forcing a reload from persistence on next
// access. Used after destructive maintenance (database wipe).
func (m *Manager) Evict(canvasID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, canvasID)
}

// EvictAll drops every cached scene.
func (m *Manager) EvictAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*canvasEntry)
}

// TargetIDs extracts the node ids an operation touches, for conflict
// detection between concurrent edits and undo candidates. Operations that
// create nodes or target by content hash report no ids.
func TargetIDs(t OpType, raw json.RawMessage) []int64 {
	params, err := DecodeParams(t, raw)
	if err != nil {
		return nil
	}

	switch p := params.(type) {
	case *NodeMoveParams:
		ids, _ := p.Targets()
		return ids
	case *NodeDeleteParams:
		return p.NodeIDs
	case *NodeResizeParams:
		return p.NodeIDs
	case *NodeRotateParams:
		ids, _ := p.Targets()
		return ids
	case *NodePropertyUpdateParams:
		return []int64{p.NodeID}
	case *NodeBatchPropertyUpdateParams:
		ids := make([]int64, 0, len(p.Updates))
		for _, u := range p.Updates {
			ids = append(ids, u.NodeID)
		}
		return ids
	case *NodeResetParams:
		return p.NodeIDs
	case *VideoToggleParams:
		return []int64{p.NodeID}
	case *NodeDuplicateParams:
		return p.NodeIDs
	case *NodeAlignParams:
		return p.NodeIDs
	case *NodeLayerOrderParams:
		return p.NodeIDs
	case *GroupMemberParams:
		return []int64{p.GroupID, p.NodeID}
	case *GroupMoveParams:
		return []int64{p.GroupID}
	case *GroupResizeParams:
		return []int64{p.GroupID}
	case *GroupToggleCollapsedParams:
		return []int64{p.GroupID}
	case *GroupUpdateStyleParams:
		return []int64{p.GroupID}
	}
	return nil
}
