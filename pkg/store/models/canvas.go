package models

import "time"

// Canvas is a named 2D scene owned by a user. The scene itself is persisted
// as a JSON blob ({nodes, version}) in CanvasData and rewritten in full on
// every successful operation; the operations log provides the fine-grained
// history.
type Canvas struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"size:255" json:"name"`
	Description  string    `gorm:"size:1024" json:"description,omitempty"`
	OwnerID      string    `gorm:"size:36;index" json:"owner_id"`
	CanvasData   []byte    `gorm:"type:text" json:"-"`
	LastModified time.Time `json:"last_modified"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Canvas.
func (Canvas) TableName() string {
	return "canvases"
}
