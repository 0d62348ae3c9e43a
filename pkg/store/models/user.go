package models

import "time"

// UserPalette is the fixed set of colors assigned to users round-robin.
// A new user gets UserPalette[userCount % len(UserPalette)].
var UserPalette = [15]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#fffac8", "#800000",
}

// ColorForIndex returns the palette color for the nth user.
func ColorForIndex(n int64) string {
	idx := n % int64(len(UserPalette))
	if idx < 0 {
		idx += int64(len(UserPalette))
	}
	return UserPalette[idx]
}

// User is a canvas participant. Identity is username-keyed only; there is
// no credential material (the server is pre-auth infrastructure).
type User struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	DisplayName string    `gorm:"size:255" json:"display_name,omitempty"`
	Color       string    `gorm:"size:16" json:"color"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// GetDisplayName returns the display name, or username if display name is not set.
func (u *User) GetDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
