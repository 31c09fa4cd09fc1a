package model

import "time"

// Unlimited marks a quota limit as bypassed.
const Unlimited int64 = -1

// QuotaLimits are the effective caps for one user. A nil pointer in the
// stored record falls back to the role default; Unlimited (-1) disables the
// check entirely.
type QuotaLimits struct {
	MaxStorage  int64 `json:"max_storage"`
	MaxFileSize int64 `json:"max_file_size"`
	MaxFiles    int64 `json:"max_files"`
}

// DefaultQuotas maps each role to its default limits.
// Free: 50 GiB storage, 10 GiB per file, 1000 files. Premium and admin are
// unlimited across the board.
var DefaultQuotas = map[UserRole]QuotaLimits{
	RoleFree: {
		MaxStorage:  50 * 1024 * 1024 * 1024,
		MaxFileSize: 10 * 1024 * 1024 * 1024,
		MaxFiles:    1000,
	},
	RolePremium: {MaxStorage: Unlimited, MaxFileSize: Unlimited, MaxFiles: Unlimited},
	RoleAdmin:   {MaxStorage: Unlimited, MaxFileSize: Unlimited, MaxFiles: Unlimited},
}

// BandwidthUsage tracks download bytes with daily and monthly windows.
// The daily counter resets when the wall-clock day changes, the monthly one
// when the month changes.
type BandwidthUsage struct {
	Daily     int64     `json:"daily"`
	Monthly   int64     `json:"monthly"`
	LastReset time.Time `json:"last_reset"`
}

// Quota is the per-user accounting record, auto-created on first use.
type Quota struct {
	UserID string `gorm:"primaryKey;size:36" json:"user_id"`

	// Stored limit overrides; nil falls back to role defaults.
	MaxStorage  *int64 `json:"max_storage,omitempty"`
	MaxFileSize *int64 `json:"max_file_size,omitempty"`
	MaxFiles    *int64 `json:"max_files,omitempty"`

	StorageUsed int64          `gorm:"default:0" json:"storage_used"`
	FilesUsed   int64          `gorm:"default:0" json:"files_used"`
	Bandwidth   BandwidthUsage `gorm:"serializer:json" json:"bandwidth"`

	IsOverQuota    bool       `gorm:"default:false" json:"is_over_quota"`
	OverQuotaSince *time.Time `json:"over_quota_since,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Quota.
func (Quota) TableName() string {
	return "quotas"
}

// RolloverBandwidth resets the daily and monthly counters when the wall-clock
// day or month has changed since the last reset.
func (q *Quota) RolloverBandwidth(now time.Time) {
	last := q.Bandwidth.LastReset
	if last.IsZero() {
		q.Bandwidth.LastReset = now
		return
	}
	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm {
		q.Bandwidth.Daily = 0
		q.Bandwidth.Monthly = 0
		q.Bandwidth.LastReset = now
		return
	}
	if ld != nd {
		q.Bandwidth.Daily = 0
		q.Bandwidth.LastReset = now
	}
}
