package models

import "time"

// ActiveSession mirrors a live websocket session for observability and
// restart diagnostics. The authoritative session registry lives in memory
// in the collaboration hub; rows here are best-effort write-through.
type ActiveSession struct {
	SocketID string    `gorm:"primaryKey;size:64" json:"socket_id"`
	UserID   string    `gorm:"size:36;index" json:"user_id"`
	CanvasID string    `gorm:"size:64;index" json:"canvas_id"`
	TabID    string    `gorm:"size:64" json:"tab_id"`
	JoinedAt time.Time `json:"joined_at"`
	LastPing time.Time `json:"last_ping"`
}

// TableName returns the table name for ActiveSession.
func (ActiveSession) TableName() string {
	return "active_sessions"
}
