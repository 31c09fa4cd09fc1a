// Package model defines the durable records and closed enums shared across
// tidestore: users, files, folders, upload sessions, and quotas.
package model

// AllModels lists every durable record for schema migration.
func AllModels() []any {
	return []any{
		&User{},
		&File{},
		&Folder{},
		&UploadSession{},
		&Quota{},
	}
}
