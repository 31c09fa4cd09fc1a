package metadata

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tidestore/tidestore/pkg/model"
)

// likeEscaper escapes LIKE metacharacters. Folder names may legally contain
// "_" and "%", which LIKE would otherwise treat as wildcards, so every
// path-prefix match escapes the prefix and declares ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// descendantPattern builds the escaped LIKE pattern matching every path
// strictly below prefix.
func descendantPattern(prefix string) string {
	return likeEscaper.Replace(prefix) + "/%"
}

// CreateFolder inserts a folder record, generating an ID if absent.
// (userID, path) uniqueness violations surface as CONFLICT.
func (s *Store) CreateFolder(ctx context.Context, folder *model.Folder) (string, error) {
	return createWithID(s.db, ctx, folder, func(f *model.Folder, id string) { f.ID = id }, folder.ID, "folder")
}

// GetFolder returns a folder owned by userID.
func (s *Store) GetFolder(ctx context.Context, userID, id string) (*model.Folder, error) {
	var folder model.Folder
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&folder).Error; err != nil {
		return nil, convertNotFound(err, "folder")
	}
	return &folder, nil
}

// GetFolderByPath resolves a folder by its absolute path.
func (s *Store) GetFolderByPath(ctx context.Context, userID, path string) (*model.Folder, error) {
	var folder model.Folder
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND path = ?", userID, path).
		First(&folder).Error; err != nil {
		return nil, convertNotFound(err, "folder")
	}
	return &folder, nil
}

// ListChildFolders returns the immediate children of parentID (nil for root),
// name-sorted.
func (s *Store) ListChildFolders(ctx context.Context, userID string, parentID *string) ([]*model.Folder, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var folders []*model.Folder
	err := q.Order("name ASC").Find(&folders).Error
	return folders, err
}

// ListDescendants returns every folder strictly below pathPrefix.
func (s *Store) ListDescendants(ctx context.Context, userID, pathPrefix string) ([]*model.Folder, error) {
	var folders []*model.Folder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND path LIKE ? ESCAPE '\\'", userID, descendantPattern(pathPrefix)).
		Order("path ASC").
		Find(&folders).Error
	return folders, err
}

// SiblingExists reports whether parentID already has a child named name.
func (s *Store) SiblingExists(ctx context.Context, userID string, parentID *string, name string) (bool, error) {
	q := s.db.WithContext(ctx).Model(&model.Folder{}).
		Where("user_id = ? AND name = ?", userID, name)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var count int64
	err := q.Count(&count).Error
	return count > 0, err
}

// UpdateFolder applies a partial update to a folder record.
func (s *Store) UpdateFolder(ctx context.Context, id string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&model.Folder{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return convertNotFound(gorm.ErrRecordNotFound, "folder")
	}
	return nil
}

// CascadePaths rewrites the moved folder's path/parent and every descendant's
// path/depth in one transaction. A torn cascade would detach a subtree, so
// this is the one store operation that owns its transaction.
func (s *Store) CascadePaths(ctx context.Context, userID, folderID string, newParentID *string, newName, oldPath, newPath string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"parent_id": newParentID,
			"name":      newName,
			"path":      newPath,
			"depth":     model.PathDepth(newPath),
		}
		if err := tx.Model(&model.Folder{}).Where("id = ?", folderID).Updates(updates).Error; err != nil {
			return err
		}

		var descendants []*model.Folder
		if err := tx.Where("user_id = ? AND path LIKE ? ESCAPE '\\'", userID, descendantPattern(oldPath)).
			Find(&descendants).Error; err != nil {
			return err
		}
		for _, d := range descendants {
			rewritten := newPath + d.Path[len(oldPath):]
			if err := tx.Model(&model.Folder{}).Where("id = ?", d.ID).Updates(map[string]any{
				"path":  rewritten,
				"depth": model.PathDepth(rewritten),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFolder removes a single folder record.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Folder{}).Error
}
