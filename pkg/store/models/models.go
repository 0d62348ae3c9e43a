// Package models defines the persisted entities of the canvas server and
// their domain errors. All models are GORM-mapped and engine-agnostic
// (SQLite by default, PostgreSQL optional).
package models

// AllModels returns every model for GORM AutoMigrate, in dependency order.
func AllModels() []any {
	return []any{
		&User{},
		&Canvas{},
		&Operation{},
		&File{},
		&ActiveSession{},
		&ActiveTransaction{},
		&UserViewportState{},
	}
}
