package metadata

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tidestore/tidestore/pkg/model"
)

// GetOrCreateQuota returns the user's quota record, creating an empty one on
// first use.
func (s *Store) GetOrCreateQuota(ctx context.Context, userID string) (*model.Quota, error) {
	var quota model.Quota
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&quota).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		quota = model.Quota{UserID: userID}
		if err := s.db.WithContext(ctx).Create(&quota).Error; err != nil {
			// A concurrent first use may have won the insert
			if isUniqueConstraintError(err) {
				err = s.db.WithContext(ctx).Where("user_id = ?", userID).First(&quota).Error
				return &quota, err
			}
			return nil, err
		}
		return &quota, nil
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// SaveQuota writes the full quota record back.
func (s *Store) SaveQuota(ctx context.Context, quota *model.Quota) error {
	return s.db.WithContext(ctx).Save(quota).Error
}

// AddQuotaUsage atomically adjusts the storage and file counters.
func (s *Store) AddQuotaUsage(ctx context.Context, userID string, deltaStorage, deltaFiles int64) error {
	return s.db.WithContext(ctx).Model(&model.Quota{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"storage_used": gorm.Expr("storage_used + ?", deltaStorage),
			"files_used":   gorm.Expr("files_used + ?", deltaFiles),
		}).Error
}
