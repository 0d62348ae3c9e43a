package models

import "time"

// UserViewportState stores a user's last navigation state (zoom and pan)
// for a canvas, written by PATCH /canvases/{id}/state.
type UserViewportState struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	CanvasID  string    `gorm:"primaryKey;size:64" json:"canvas_id"`
	Scale     float64   `json:"scale"`
	OffsetX   float64   `json:"offset_x"`
	OffsetY   float64   `json:"offset_y"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for UserViewportState.
func (UserViewportState) TableName() string {
	return "user_viewport_states"
}
