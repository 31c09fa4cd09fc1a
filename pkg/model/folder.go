package model

import (
	"strings"
	"time"
)

// Folder represents one node of a user's folder hierarchy.
//
// Path is denormalized: the absolute slash-delimited path from the root
// (e.g. "/projects/2026"). Moves and renames cascade path and depth updates
// to every descendant.
type Folder struct {
	ID       string  `gorm:"primaryKey;size:36" json:"id"`
	UserID   string  `gorm:"size:36;not null;index;index:idx_folders_user_parent,priority:1;uniqueIndex:idx_folders_user_path,priority:1" json:"user_id"`
	Name     string  `gorm:"not null;size:255" json:"name"`
	ParentID *string `gorm:"size:36;index:idx_folders_user_parent,priority:2" json:"parent_id,omitempty"`
	Path     string  `gorm:"not null;size:4096;uniqueIndex:idx_folders_user_path,priority:2" json:"path"`
	Depth    int     `gorm:"default:0" json:"depth"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}

// ChildPath joins a parent path and a folder name into an absolute path.
func ChildPath(parentPath, name string) string {
	if parentPath == "" || parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// PathDepth computes the depth of an absolute path: "/a" is 0, "/a/b" is 1.
func PathDepth(path string) int {
	if path == "" || path == "/" {
		return 0
	}
	return strings.Count(path, "/") - 1
}
