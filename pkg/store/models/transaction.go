package models

import (
	"encoding/json"
	"time"
)

// Transaction states.
const (
	TransactionActive    = "active"
	TransactionCommitted = "committed"
	TransactionAborted   = "aborted"
)

// ActiveTransaction bundles operations into one undo unit. A user has at
// most one active transaction per canvas. Abort closes the bundle without
// rolling back state; the operations stay applied and individually undoable.
type ActiveTransaction struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	UserID     string    `gorm:"size:36;index:idx_transactions_user_canvas" json:"user_id"`
	CanvasID   string    `gorm:"size:64;index:idx_transactions_user_canvas" json:"canvas_id"`
	Source     string    `gorm:"size:255" json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Operations []byte    `gorm:"type:text" json:"operations,omitempty"` // JSON array of operation ids
	State      string    `gorm:"not null;default:active;size:16" json:"state"`
}

// TableName returns the table name for ActiveTransaction.
func (ActiveTransaction) TableName() string {
	return "active_transactions"
}

// OperationIDs decodes the ordered operation id list.
func (t *ActiveTransaction) OperationIDs() []string {
	if len(t.Operations) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(t.Operations, &ids); err != nil {
		return nil
	}
	return ids
}

// SetOperationIDs encodes the ordered operation id list.
func (t *ActiveTransaction) SetOperationIDs(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	t.Operations = data
	return nil
}
