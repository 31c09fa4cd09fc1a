package model

import "time"

// StorageTier identifies which on-disk tier holds a blob.
type StorageTier string

const (
	// TierHot is the fast tier (SSD path). All new files land here.
	TierHot StorageTier = "hot"
	// TierCold is the slow tier (HDD path) for rarely accessed files.
	TierCold StorageTier = "cold"
)

// IsValid checks if the tier is a valid StorageTier.
func (t StorageTier) IsValid() bool {
	return t == TierHot || t == TierCold
}

// MigrationStatus tracks a file's progress through tier migration.
type MigrationStatus string

const (
	MigrationNone       MigrationStatus = "none"
	MigrationPending    MigrationStatus = "pending"
	MigrationInProgress MigrationStatus = "in_progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
)

// File represents a stored object and its metadata. The blob itself lives at
// <basePath>/<tier>/<first-2-of-key>/<storageKey>.
type File struct {
	ID           string  `gorm:"primaryKey;size:36" json:"id"`
	UserID       string  `gorm:"size:36;not null;index;index:idx_files_user_deleted,priority:1" json:"user_id"`
	FolderID     *string `gorm:"size:36;index" json:"folder_id,omitempty"`
	StorageKey   string  `gorm:"uniqueIndex;not null;size:128" json:"-"`
	OriginalName string  `gorm:"not null;size:255" json:"original_name"`
	MimeType     string  `gorm:"size:255" json:"mime_type"`
	Size         int64   `gorm:"not null" json:"size"`
	Hash         string  `gorm:"size:64" json:"hash"` // sha-256, hex

	StorageTier     StorageTier     `gorm:"default:hot;size:8;index:idx_files_tier_access,priority:1" json:"storage_tier"`
	MigrationStatus MigrationStatus `gorm:"default:none;size:16" json:"migration_status"`
	LastMigrationAt *time.Time      `json:"last_migration_at,omitempty"`

	Downloads      int64      `gorm:"default:0;index:idx_files_downloads_tier,priority:1" json:"downloads"`
	LastDownloadAt *time.Time `json:"last_download_at,omitempty"`
	LastAccessAt   time.Time  `gorm:"index:idx_files_tier_access,priority:2" json:"last_access_at"`

	ExpiresAt *time.Time `gorm:"index:idx_files_expires_deleted,priority:1" json:"expires_at,omitempty"`
	IsPublic  bool       `gorm:"default:false" json:"is_public"`
	Password  string     `gorm:"size:255" json:"-"`

	IsDeleted bool       `gorm:"default:false;index:idx_files_user_deleted,priority:2;index:idx_files_expires_deleted,priority:2" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Metadata is a free-form string mapping supplied by clients.
	Metadata map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// IsExpired is derived: a non-nil ExpiresAt in the past marks the file for the
// expiry sweeper, though it stays readable until the sweep runs only through
// direct record access; resolution paths treat it as absent.
func (f *File) IsExpired(now time.Time) bool {
	return f.ExpiresAt != nil && !now.Before(*f.ExpiresAt)
}
