package models

import "time"

// Media processing status values.
const (
	ProcessingPending   = "pending"
	ProcessingActive    = "processing"
	ProcessingCompleted = "completed"
	ProcessingFailed    = "failed"
)

// File is one uploaded media file. Filename is the server-assigned
// "<unixMillis>-<base36>.<ext>" name; Hash is the SHA-256 of the content
// and identifies it across the system (two rows with the same hash refer
// to byte-identical content).
type File struct {
	Filename         string    `gorm:"primaryKey;size:255" json:"filename"`
	OriginalName     string    `gorm:"size:512" json:"original_name"`
	MimeType         string    `gorm:"size:128" json:"mime_type"`
	Size             int64     `json:"size"`
	Hash             string    `gorm:"size:64;index" json:"hash"`
	UserID           string    `gorm:"size:36" json:"user_id"`
	CanvasID         *string   `gorm:"size:64" json:"canvas_id,omitempty"`
	ProcessedFormats []byte    `gorm:"type:text" json:"processed_formats,omitempty"`
	ProcessingStatus string    `gorm:"size:16" json:"processing_status,omitempty"`
	ProcessingError  string    `gorm:"size:1024" json:"processing_error,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// IsVideo reports whether the file is a video upload.
func (f *File) IsVideo() bool {
	return len(f.MimeType) >= 6 && f.MimeType[:6] == "video/"
}
