package models

import "time"

// Operation states. Undo flips a row to undone; redo flips it back.
// Rows are never deleted except by clear_undo_history.
const (
	OperationApplied = "applied"
	OperationUndone  = "undone"
)

// Operation is one recorded mutation of a canvas. The row is keyed by the
// client-supplied operation id; Params and UndoData are stored as the raw
// JSON the client submitted.
type Operation struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	Type           string     `gorm:"not null;size:64" json:"type"`
	Params         []byte     `gorm:"type:text" json:"params"`
	UndoData       []byte     `gorm:"type:text" json:"undo_data,omitempty"`
	UserID         string     `gorm:"size:36;index:idx_operations_user_state" json:"user_id"`
	CanvasID       string     `gorm:"size:64;index:idx_operations_canvas_seq" json:"canvas_id"`
	TransactionID  *string    `gorm:"size:36;index" json:"transaction_id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	SequenceNumber int64      `gorm:"index:idx_operations_canvas_seq" json:"sequence_number"`
	State          string     `gorm:"not null;default:applied;size:16;index:idx_operations_user_state" json:"state"`
	UndoneAt       *time.Time `json:"undone_at,omitempty"`
	UndoneBy       string     `gorm:"size:36" json:"undone_by,omitempty"`
	RedoneAt       *time.Time `json:"redone_at,omitempty"`
	RedoneBy       string     `gorm:"size:36" json:"redone_by,omitempty"`
}

// TableName returns the table name for Operation.
func (Operation) TableName() string {
	return "operations"
}

// IsApplied reports whether the operation currently counts toward canvas state.
func (o *Operation) IsApplied() bool {
	return o.State == OperationApplied
}
