package metadata

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tidestore/tidestore/pkg/model"
)

// CreateFile inserts a file record, generating an ID if absent.
func (s *Store) CreateFile(ctx context.Context, file *model.File) (string, error) {
	return createWithID(s.db, ctx, file, func(f *model.File, id string) { f.ID = id }, file.ID, "file")
}

// GetFile returns a live (non-deleted) file by ID.
func (s *Store) GetFile(ctx context.Context, id string) (*model.File, error) {
	var file model.File
	if err := s.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", id, false).
		First(&file).Error; err != nil {
		return nil, convertNotFound(err, "file")
	}
	return &file, nil
}

// GetFileAny returns a file by ID regardless of deletion state.
func (s *Store) GetFileAny(ctx context.Context, id string) (*model.File, error) {
	return getByField[model.File](s.db, ctx, "id", id, "file")
}

// GetFileByStorageKey returns a live file by its opaque storage key.
func (s *Store) GetFileByStorageKey(ctx context.Context, key string) (*model.File, error) {
	var file model.File
	if err := s.db.WithContext(ctx).
		Where("storage_key = ? AND is_deleted = ?", key, false).
		First(&file).Error; err != nil {
		return nil, convertNotFound(err, "file")
	}
	return &file, nil
}

// UpdateFile applies a partial update to a file record.
func (s *Store) UpdateFile(ctx context.Context, id string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&model.File{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return convertNotFound(gorm.ErrRecordNotFound, "file")
	}
	return nil
}

// RecordDownload atomically increments the download counter and stamps the
// access times. The increment uses an SQL expression so concurrent downloads
// never lose updates. When extendTo is non-nil, ExpiresAt moves forward to it
// only if currently earlier, which keeps the expiry monotone; files with a
// nil ExpiresAt (premium) are never given one.
func (s *Store) RecordDownload(ctx context.Context, id string, now time.Time, extendTo *time.Time) error {
	updates := map[string]any{
		"downloads":        gorm.Expr("downloads + ?", 1),
		"last_download_at": now,
		"last_access_at":   now,
	}
	if err := s.db.WithContext(ctx).Model(&model.File{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return err
	}

	if extendTo != nil {
		return s.db.WithContext(ctx).Model(&model.File{}).
			Where("id = ? AND expires_at IS NOT NULL AND expires_at < ?", id, *extendTo).
			Update("expires_at", *extendTo).Error
	}
	return nil
}

// TouchAccess stamps LastAccessAt without counting a download (range reads).
func (s *Store) TouchAccess(ctx context.Context, id string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&model.File{}).
		Where("id = ? AND last_access_at < ?", id, now).
		Update("last_access_at", now).Error
}

// SoftDeleteFile marks a file deleted. The caller removes the blob.
func (s *Store) SoftDeleteFile(ctx context.Context, id string, now time.Time) error {
	return s.UpdateFile(ctx, id, map[string]any{
		"is_deleted": true,
		"deleted_at": now,
	})
}

// DeleteFile removes the record entirely.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.File{}).Error
}

// ListExpired returns live files whose expiry has passed, oldest expiry
// first, for the expiry sweeper.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.File, error) {
	var files []*model.File
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND is_deleted = ?", now, false).
		Order("expires_at ASC").
		Limit(limit).
		Find(&files).Error
	return files, err
}

// ListColdCandidates returns hot-tier files of free-tier users that have not
// been accessed since cutoff and are not already queued for migration.
func (s *Store) ListColdCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*model.File, error) {
	var files []*model.File
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = files.user_id").
		Where("files.storage_tier = ? AND files.is_deleted = ?", model.TierHot, false).
		Where("files.last_access_at <= ?", cutoff).
		Where("users.role = ?", model.RoleFree).
		Where("files.migration_status NOT IN ?", []model.MigrationStatus{model.MigrationPending, model.MigrationInProgress}).
		Order("files.last_access_at ASC").
		Limit(limit).
		Find(&files).Error
	return files, err
}

// ListHotCandidates returns cold-tier files with enough recent downloads to
// earn promotion back to the hot tier.
func (s *Store) ListHotCandidates(ctx context.Context, minDownloads int64, since time.Time, limit int) ([]*model.File, error) {
	var files []*model.File
	err := s.db.WithContext(ctx).
		Where("storage_tier = ? AND is_deleted = ?", model.TierCold, false).
		Where("downloads >= ?", minDownloads).
		Where("last_download_at IS NOT NULL AND last_download_at >= ?", since).
		Where("migration_status NOT IN ?", []model.MigrationStatus{model.MigrationPending, model.MigrationInProgress}).
		Order("downloads DESC").
		Limit(limit).
		Find(&files).Error
	return files, err
}

// SetMigrationStatus updates a file's migration bookkeeping.
func (s *Store) SetMigrationStatus(ctx context.Context, id string, status model.MigrationStatus) error {
	return s.UpdateFile(ctx, id, map[string]any{"migration_status": status})
}

// CompleteMigration records a finished tier move.
func (s *Store) CompleteMigration(ctx context.Context, id string, tier model.StorageTier, at time.Time) error {
	return s.UpdateFile(ctx, id, map[string]any{
		"storage_tier":      tier,
		"migration_status":  model.MigrationCompleted,
		"last_migration_at": at,
	})
}

// FileUsage aggregates size and count over a user's live files; the quota
// accountant uses it to recompute usage from the ground truth.
func (s *Store) FileUsage(ctx context.Context, userID string) (totalSize int64, count int64, err error) {
	row := struct {
		Total int64
		Count int64
	}{}
	err = s.db.WithContext(ctx).Model(&model.File{}).
		Select("COALESCE(SUM(size), 0) AS total, COUNT(*) AS count").
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Scan(&row).Error
	return row.Total, row.Count, err
}

// ListFilesInFolder returns a page of a user's live files in a folder.
// A nil folderID selects root-level files.
func (s *Store) ListFilesInFolder(ctx context.Context, userID string, folderID *string, offset, limit int, sort string) ([]*model.File, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.File{}).
		Where("user_id = ? AND is_deleted = ?", userID, false)
	if folderID == nil {
		q = q.Where("folder_id IS NULL")
	} else {
		q = q.Where("folder_id = ?", *folderID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	switch sort {
	case "name":
		order = "original_name ASC"
	case "size":
		order = "size DESC"
	case "downloads":
		order = "downloads DESC"
	}

	var files []*model.File
	err := q.Order(order).Offset(offset).Limit(limit).Find(&files).Error
	return files, total, err
}

// ListAllFilesInFolder returns every file in a folder including soft-deleted
// ones. The recursive folder delete uses it to purge records whose blobs are
// already gone.
func (s *Store) ListAllFilesInFolder(ctx context.Context, userID string, folderID *string) ([]*model.File, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if folderID == nil {
		q = q.Where("folder_id IS NULL")
	} else {
		q = q.Where("folder_id = ?", *folderID)
	}
	var files []*model.File
	err := q.Find(&files).Error
	return files, err
}

// MoveFileToFolder reassigns a file's folder; nil moves it to the root.
func (s *Store) MoveFileToFolder(ctx context.Context, fileID string, folderID *string) error {
	return s.UpdateFile(ctx, fileID, map[string]any{"folder_id": folderID})
}
