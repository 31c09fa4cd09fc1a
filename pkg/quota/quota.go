// Package quota implements per-user storage, file-count, and bandwidth
// accounting with role-derived limits.
//
// Accounting is soft: ingress is gated by CanUpload at session init, and
// AddFile after a successful upload may push usage past the cap. The record
// flips IsOverQuota at that moment but mid-upload overages are tolerated.
package quota

import (
	"context"
	"time"

	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/store/metadata"
)

// Reason codes for denied uploads.
const (
	ReasonFileTooLarge      = "FILE_TOO_LARGE"
	ReasonStorageExceeded   = "STORAGE_EXCEEDED"
	ReasonFileCountExceeded = "FILE_COUNT_EXCEEDED"
)

// Reason describes one violated limit.
type Reason struct {
	Code     string `json:"code"`
	Limit    int64  `json:"limit"`
	Current  int64  `json:"current"`
	Required int64  `json:"required,omitempty"`
}

// Decision is the outcome of CanUpload.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Summary reports a user's effective limits and current usage.
type Summary struct {
	Limits      model.QuotaLimits    `json:"limits"`
	StorageUsed int64                `json:"storage_used"`
	FilesUsed   int64                `json:"files_used"`
	Bandwidth   model.BandwidthUsage `json:"bandwidth"`
	IsOverQuota bool                 `json:"is_over_quota"`
}

// Accountant resolves limits and maintains usage counters.
type Accountant struct {
	store *metadata.Store
	now   func() time.Time
}

// New creates an accountant over the metadata store.
func New(store *metadata.Store) *Accountant {
	return &Accountant{store: store, now: time.Now}
}

// resolveLimits computes effective limits: per-user override first, then the
// admin-set value on the quota record, then the role default. Unlimited (-1)
// bypasses the check.
func resolveLimits(user *model.User, quota *model.Quota) model.QuotaLimits {
	limits := model.DefaultQuotas[user.Role]

	if quota.MaxStorage != nil {
		limits.MaxStorage = *quota.MaxStorage
	}
	if quota.MaxFileSize != nil {
		limits.MaxFileSize = *quota.MaxFileSize
	}
	if quota.MaxFiles != nil {
		limits.MaxFiles = *quota.MaxFiles
	}

	if o := user.QuotaOverride; o != nil {
		if o.MaxStorage != nil {
			limits.MaxStorage = *o.MaxStorage
		}
		if o.MaxFileSize != nil {
			limits.MaxFileSize = *o.MaxFileSize
		}
	}

	return limits
}

// CanUpload checks whether a file of fileSize bytes fits within the user's
// limits. All violated limits are reported, not just the first.
func (a *Accountant) CanUpload(ctx context.Context, userID string, fileSize int64) (*Decision, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	quota, err := a.store.GetOrCreateQuota(ctx, userID)
	if err != nil {
		return nil, err
	}

	limits := resolveLimits(user, quota)
	var reasons []Reason

	if limits.MaxFileSize != model.Unlimited && fileSize > limits.MaxFileSize {
		reasons = append(reasons, Reason{
			Code:     ReasonFileTooLarge,
			Limit:    limits.MaxFileSize,
			Current:  fileSize,
			Required: fileSize,
		})
	}
	if limits.MaxStorage != model.Unlimited && quota.StorageUsed+fileSize > limits.MaxStorage {
		reasons = append(reasons, Reason{
			Code:     ReasonStorageExceeded,
			Limit:    limits.MaxStorage,
			Current:  quota.StorageUsed,
			Required: fileSize,
		})
	}
	if limits.MaxFiles != model.Unlimited && quota.FilesUsed+1 > limits.MaxFiles {
		reasons = append(reasons, Reason{
			Code:    ReasonFileCountExceeded,
			Limit:   limits.MaxFiles,
			Current: quota.FilesUsed,
		})
	}

	return &Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

// AddFile records a stored file. If the addition pushes usage past the
// storage cap, the record is flagged over-quota.
func (a *Accountant) AddFile(ctx context.Context, userID string, size int64) error {
	if err := a.store.AddQuotaUsage(ctx, userID, size, 1); err != nil {
		return err
	}
	return a.refreshOverQuota(ctx, userID)
}

// RemoveFile reverses AddFile for a deleted file. Usage never goes negative.
func (a *Accountant) RemoveFile(ctx context.Context, userID string, size int64) error {
	quota, err := a.store.GetOrCreateQuota(ctx, userID)
	if err != nil {
		return err
	}
	quota.StorageUsed -= size
	if quota.StorageUsed < 0 {
		quota.StorageUsed = 0
	}
	quota.FilesUsed--
	if quota.FilesUsed < 0 {
		quota.FilesUsed = 0
	}
	if err := a.store.SaveQuota(ctx, quota); err != nil {
		return err
	}
	return a.refreshOverQuota(ctx, userID)
}

// AddBandwidth adds served bytes to the rolling daily and monthly counters.
func (a *Accountant) AddBandwidth(ctx context.Context, userID string, bytes int64) error {
	quota, err := a.store.GetOrCreateQuota(ctx, userID)
	if err != nil {
		return err
	}
	quota.RolloverBandwidth(a.now())
	quota.Bandwidth.Daily += bytes
	quota.Bandwidth.Monthly += bytes
	return a.store.SaveQuota(ctx, quota)
}

// GetSummary reports effective limits and current usage.
func (a *Accountant) GetSummary(ctx context.Context, userID string) (*Summary, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	quota, err := a.store.GetOrCreateQuota(ctx, userID)
	if err != nil {
		return nil, err
	}
	quota.RolloverBandwidth(a.now())

	return &Summary{
		Limits:      resolveLimits(user, quota),
		StorageUsed: quota.StorageUsed,
		FilesUsed:   quota.FilesUsed,
		Bandwidth:   quota.Bandwidth,
		IsOverQuota: quota.IsOverQuota,
	}, nil
}

// SyncFromFiles recomputes usage from the file records, repairing drift left
// by crashes between compensating updates.
func (a *Accountant) SyncFromFiles(ctx context.Context, userID string) error {
	totalSize, count, err := a.store.FileUsage(ctx, userID)
	if err != nil {
		return err
	}
	quota, err := a.store.GetOrCreateQuota(ctx, userID)
	if err != nil {
		return err
	}
	quota.StorageUsed = totalSize
	quota.FilesUsed = count
	if err := a.store.SaveQuota(ctx, quota); err != nil {
		return err
	}
	return a.refreshOverQuota(ctx, userID)
}

// refreshOverQuota re-evaluates the over-quota flag against the storage cap.
func (a *Accountant) refreshOverQuota(ctx context.Context, userID string) error {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	quota, err := a.store.GetOrCreateQuota(ctx, userID)
	if err != nil {
		return err
	}

	limits := resolveLimits(user, quota)
	over := limits.MaxStorage != model.Unlimited && quota.StorageUsed > limits.MaxStorage

	if over && !quota.IsOverQuota {
		now := a.now()
		quota.IsOverQuota = true
		quota.OverQuotaSince = &now
		return a.store.SaveQuota(ctx, quota)
	}
	if !over && quota.IsOverQuota {
		quota.IsOverQuota = false
		quota.OverQuotaSince = nil
		return a.store.SaveQuota(ctx, quota)
	}
	return nil
}
