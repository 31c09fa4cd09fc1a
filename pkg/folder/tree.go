// Package folder implements the per-user folder hierarchy: creation, moves
// with cycle detection, renames, recursive deletion, and listings.
//
// Every folder carries a denormalized absolute path. Moves and renames
// recompute it from the parent chain and cascade the rewrite to descendants
// in a single store transaction.
package folder

import (
	"context"
	"time"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// maxDepth bounds the ancestor walk during cycle detection. A chain longer
// than this indicates corrupted parent links.
const maxDepth = 128

// Tree is the folder hierarchy service.
type Tree struct {
	meta  *metadata.Store
	blobs *blob.Backend
	cache volatile.Store
	quota *quota.Accountant

	now func() time.Time
}

// NewTree creates the folder service.
func NewTree(meta *metadata.Store, blobs *blob.Backend, cache volatile.Store, accountant *quota.Accountant) *Tree {
	return &Tree{meta: meta, blobs: blobs, cache: cache, quota: accountant, now: time.Now}
}

// Create adds a folder under parentID (nil for root). Sibling names are
// unique per parent.
func (t *Tree) Create(ctx context.Context, userID, name string, parentID *string) (*model.Folder, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	parentPath := ""
	if parentID != nil {
		parent, err := t.meta.GetFolder(ctx, userID, *parentID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	exists, err := t.meta.SiblingExists(ctx, userID, parentID, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Conflict("a folder with this name already exists here")
	}

	path := model.ChildPath(parentPath, name)
	folder := &model.Folder{
		UserID:   userID,
		Name:     name,
		ParentID: parentID,
		Path:     path,
		Depth:    model.PathDepth(path),
	}
	if _, err := t.meta.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// Move reparents a folder. Moving a folder into its own subtree is rejected.
func (t *Tree) Move(ctx context.Context, userID, folderID string, newParentID *string) (*model.Folder, error) {
	folder, err := t.meta.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}
	if sameParent(folder.ParentID, newParentID) {
		return folder, nil
	}

	newParentPath := ""
	if newParentID != nil {
		if *newParentID == folderID {
			return nil, errs.Validation("cannot move a folder into itself")
		}
		if err := t.checkCycle(ctx, userID, folderID, *newParentID); err != nil {
			return nil, err
		}
		parent, err := t.meta.GetFolder(ctx, userID, *newParentID)
		if err != nil {
			return nil, err
		}
		newParentPath = parent.Path
	}

	exists, err := t.meta.SiblingExists(ctx, userID, newParentID, folder.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Conflict("a folder with this name already exists here")
	}

	newPath := model.ChildPath(newParentPath, folder.Name)
	if err := t.meta.CascadePaths(ctx, userID, folderID, newParentID, folder.Name, folder.Path, newPath); err != nil {
		return nil, err
	}

	folder.ParentID = newParentID
	folder.Path = newPath
	folder.Depth = model.PathDepth(newPath)
	return folder, nil
}

// Rename changes a folder's name and cascades the path rewrite.
func (t *Tree) Rename(ctx context.Context, userID, folderID, newName string) (*model.Folder, error) {
	newName, err := SanitizeName(newName)
	if err != nil {
		return nil, err
	}

	folder, err := t.meta.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}
	if folder.Name == newName {
		return folder, nil
	}

	exists, err := t.meta.SiblingExists(ctx, userID, folder.ParentID, newName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Conflict("a folder with this name already exists here")
	}

	parentPath := ""
	if folder.ParentID != nil {
		parent, err := t.meta.GetFolder(ctx, userID, *folder.ParentID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	newPath := model.ChildPath(parentPath, newName)
	if err := t.meta.CascadePaths(ctx, userID, folderID, folder.ParentID, newName, folder.Path, newPath); err != nil {
		return nil, err
	}

	folder.Name = newName
	folder.Path = newPath
	folder.Depth = model.PathDepth(newPath)
	return folder, nil
}

// sameParent reports whether two parent references point at the same place,
// treating nil as the root.
func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// checkCycle walks up from newParentID and rejects the move if folderID
// appears in the ancestor chain.
func (t *Tree) checkCycle(ctx context.Context, userID, folderID, newParentID string) error {
	current := newParentID
	for i := 0; i < maxDepth; i++ {
		parent, err := t.meta.GetFolder(ctx, userID, current)
		if err != nil {
			return err
		}
		if parent.ID == folderID {
			return errs.Validation("cannot move a folder into its own subtree")
		}
		if parent.ParentID == nil {
			return nil
		}
		current = *parent.ParentID
	}
	return errs.Internal("folder ancestry too deep", nil)
}

// DeleteResult summarizes a recursive folder deletion.
type DeleteResult struct {
	FoldersDeleted int   `json:"folders_deleted"`
	FilesDeleted   int   `json:"files_deleted"`
	BytesFreed     int64 `json:"bytes_freed"`
}

// Delete removes a folder, its subfolders, and every contained file,
// depth-first. Blobs go first, then records. Quota is adjusted only for
// files that were still live; soft-deleted files were already accounted.
func (t *Tree) Delete(ctx context.Context, userID, folderID string) (*DeleteResult, error) {
	folder, err := t.meta.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	if err := t.deleteRecursive(ctx, userID, folder, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *Tree) deleteRecursive(ctx context.Context, userID string, folder *model.Folder, res *DeleteResult) error {
	children, err := t.meta.ListChildFolders(ctx, userID, &folder.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.deleteRecursive(ctx, userID, child, res); err != nil {
			return err
		}
	}

	files, err := t.meta.ListAllFilesInFolder(ctx, userID, &folder.ID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := t.deleteFile(ctx, f); err != nil {
			logger.Warn("failed to delete file during folder removal",
				logger.KeyFileID, f.ID, logger.KeyError, err)
			continue
		}
		res.FilesDeleted++
		if !f.IsDeleted {
			res.BytesFreed += f.Size
		}
	}

	if err := t.meta.DeleteFolder(ctx, folder.ID); err != nil {
		return err
	}
	res.FoldersDeleted++
	return nil
}

func (t *Tree) deleteFile(ctx context.Context, f *model.File) error {
	if !f.IsDeleted {
		if err := t.blobs.Delete(ctx, f.StorageKey, f.StorageTier); err != nil {
			return err
		}
	}
	if err := t.meta.DeleteFile(ctx, f.ID); err != nil {
		return err
	}
	_ = t.cache.Delete(ctx, volatile.PrefixFile+f.ID)

	if !f.IsDeleted {
		if err := t.quota.RemoveFile(ctx, f.UserID, f.Size); err != nil {
			logger.Warn("failed to release quota for deleted file",
				logger.KeyFileID, f.ID, logger.KeyError, err)
		}
	}
	return nil
}

// List returns the immediate subfolders of parentID (nil for root).
func (t *Tree) List(ctx context.Context, userID string, parentID *string) ([]*model.Folder, error) {
	if parentID != nil {
		if _, err := t.meta.GetFolder(ctx, userID, *parentID); err != nil {
			return nil, err
		}
	}
	return t.meta.ListChildFolders(ctx, userID, parentID)
}

// ContentsPage is one page of a folder listing: subfolders plus files.
type ContentsPage struct {
	Folders    []*model.Folder `json:"folders"`
	Files      []*model.File   `json:"files"`
	TotalFiles int64           `json:"total_files"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
}

// Contents lists a folder's subfolders and a page of its files. Page numbers
// start at 1; sort is one of name, size, downloads, or created_at (default).
func (t *Tree) Contents(ctx context.Context, userID string, folderID *string, page, limit int, sort string) (*ContentsPage, error) {
	if folderID != nil {
		if _, err := t.meta.GetFolder(ctx, userID, *folderID); err != nil {
			return nil, err
		}
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	folders, err := t.meta.ListChildFolders(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}
	files, total, err := t.meta.ListFilesInFolder(ctx, userID, folderID, (page-1)*limit, limit, sort)
	if err != nil {
		return nil, err
	}

	return &ContentsPage{
		Folders:    folders,
		Files:      files,
		TotalFiles: total,
		Page:       page,
		Limit:      limit,
	}, nil
}

// MoveFile reassigns a file to a folder (nil for root). Both must belong to
// the caller.
func (t *Tree) MoveFile(ctx context.Context, userID, fileID string, folderID *string) error {
	file, err := t.meta.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.UserID != userID {
		return errs.Authorization("file belongs to another user")
	}
	if folderID != nil {
		if _, err := t.meta.GetFolder(ctx, userID, *folderID); err != nil {
			return err
		}
	}
	if err := t.meta.MoveFileToFolder(ctx, fileID, folderID); err != nil {
		return err
	}
	_ = t.cache.Delete(ctx, volatile.PrefixFile+fileID)
	return nil
}
