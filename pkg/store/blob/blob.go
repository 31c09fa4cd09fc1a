// Package blob implements durable byte storage across two on-disk tiers plus
// a staging area for in-flight upload chunks.
//
// Layout:
//
//	<tier path>/<first-2-of-key>/<storageKey>
//	<hot path>/temp/<sessionId>/<chunkIndex>
//
// Errors are reported typed (ErrNotFound, ErrIntegrity, wrapped I/O errors);
// this layer never retries; the caller decides.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio/v2"

	"github.com/tidestore/tidestore/pkg/model"
)

var (
	// ErrNotFound indicates the blob or chunk does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrIntegrity indicates assembled or copied content failed verification.
	ErrIntegrity = errors.New("blob integrity violation")

	// ErrInvalidRange indicates the requested byte range is unsatisfiable.
	ErrInvalidRange = errors.New("invalid byte range")
)

// tempDirName holds in-flight chunk directories under the hot tier root.
const tempDirName = "temp"

// Backend is the tiered filesystem storage backend.
type Backend struct {
	hotPath  string
	coldPath string
}

// Config holds the tier roots.
type Config struct {
	HotPath  string
	ColdPath string
}

// New creates the tier roots and the staging directory.
func New(cfg Config) (*Backend, error) {
	b := &Backend{hotPath: cfg.HotPath, coldPath: cfg.ColdPath}
	for _, dir := range []string{cfg.HotPath, cfg.ColdPath, filepath.Join(cfg.HotPath, tempDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return b, nil
}

func (b *Backend) tierPath(tier model.StorageTier) string {
	if tier == model.TierCold {
		return b.coldPath
	}
	return b.hotPath
}

// ObjectPath returns the on-disk path for a storage key within a tier.
func (b *Backend) ObjectPath(key string, tier model.StorageTier) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(b.tierPath(tier), prefix, key)
}

// ChunkDir returns the staging directory for a session.
func (b *Backend) ChunkDir(sessionID string) string {
	return filepath.Join(b.hotPath, tempDirName, sessionID)
}

func (b *Backend) chunkPath(sessionID string, index int) string {
	return filepath.Join(b.ChunkDir(sessionID), strconv.Itoa(index))
}

// WriteChunk persists one chunk atomically (write-temp-then-rename) so a
// crash mid-write never leaves a truncated chunk behind.
func (b *Backend) WriteChunk(ctx context.Context, sessionID string, index int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := b.ChunkDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}
	if err := renameio.WriteFile(b.chunkPath(sessionID, index), data, 0644); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	return nil
}

// assembleBlockSize is the copy buffer used while concatenating chunks.
const assembleBlockSize = 1 << 20

// AssembleResult reports the outcome of AssembleChunks.
type AssembleResult struct {
	Size int64
	Hash string // sha-256, hex
}

// AssembleChunks streams chunks 0..totalChunks-1 in index order into the
// destination object, computing SHA-256 alongside the writes. The destination
// becomes visible only on success; any failure removes the partial temp file
// before the error propagates.
func (b *Backend) AssembleChunks(ctx context.Context, sessionID, storageKey string, totalChunks int, tier model.StorageTier) (*AssembleResult, error) {
	dest := b.ObjectPath(storageKey, tier)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}

	t, err := renameio.TempFile("", dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembly temp file: %w", err)
	}
	defer t.Cleanup()

	hasher := sha256.New()
	out := io.MultiWriter(t, hasher)
	buf := make([]byte, assembleBlockSize)
	var size int64

	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := b.copyChunk(out, sessionID, i, buf)
		if err != nil {
			return nil, err
		}
		size += n
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("failed to finalize assembled object: %w", err)
	}

	return &AssembleResult{
		Size: size,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (b *Backend) copyChunk(dst io.Writer, sessionID string, index int, buf []byte) (int64, error) {
	f, err := os.Open(b.chunkPath(sessionID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("chunk %d: %w", index, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to open chunk %d: %w", index, err)
	}
	defer f.Close()

	n, err := io.CopyBuffer(dst, f, buf)
	if err != nil {
		return n, fmt.Errorf("failed to copy chunk %d: %w", index, err)
	}
	return n, nil
}

// DeleteChunks removes a session's staging directory. Absent directories are
// not an error; abort is idempotent.
func (b *Backend) DeleteChunks(ctx context.Context, sessionID string) error {
	if err := os.RemoveAll(b.ChunkDir(sessionID)); err != nil {
		return fmt.Errorf("failed to delete chunks for session %s: %w", sessionID, err)
	}
	return nil
}

// OpenRange returns a bounded stream over the inclusive byte range
// [start, end] of a stored object.
func (b *Backend) OpenRange(ctx context.Context, storageKey string, tier model.StorageTier, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, ErrInvalidRange
	}

	f, err := os.Open(b.ObjectPath(storageKey, tier))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object %s: %w", storageKey, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat object %s: %w", storageKey, err)
	}
	if end >= info.Size() {
		f.Close()
		return nil, ErrInvalidRange
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek object %s: %w", storageKey, err)
	}

	return &boundedReader{f: f, remaining: end - start + 1}, nil
}

// boundedReader limits reads to the requested range and closes the file.
type boundedReader struct {
	f         *os.File
	remaining int64
}

func (r *boundedReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.f.Read(p)
	r.remaining -= int64(n)
	if err == nil && r.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

func (r *boundedReader) Close() error {
	return r.f.Close()
}

// Delete removes an object from a tier. Returns ErrNotFound when absent.
func (b *Backend) Delete(ctx context.Context, storageKey string, tier model.StorageTier) error {
	err := os.Remove(b.ObjectPath(storageKey, tier))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", storageKey, err)
	}
	return nil
}

// Exists reports whether an object is present in a tier.
func (b *Backend) Exists(storageKey string, tier model.StorageTier) bool {
	_, err := os.Stat(b.ObjectPath(storageKey, tier))
	return err == nil
}

// Migrate moves an object between tiers. Rename is attempted first; when the
// tiers live on different devices the object is stream-copied, fsynced, and
// only then unlinked from the source, so a crash can duplicate a blob but
// never lose one.
func (b *Backend) Migrate(ctx context.Context, storageKey string, source, target model.StorageTier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := b.ObjectPath(storageKey, source)
	dst := b.ObjectPath(storageKey, target)

	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat source object: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device: copy, confirm, unlink

	if err := copyFileSync(src, dst); err != nil {
		os.Remove(dst)
		return err
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("migrated object missing after copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove source after migration: %w", err)
	}
	return nil
}

func copyFileSync(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source object: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create target object: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy object: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync target object: %w", err)
	}
	return out.Close()
}

// ChunkDirInfo describes one staging directory for the orphan sweep.
type ChunkDirInfo struct {
	SessionID string
	ModTime   time.Time
}

// ListChunkDirs enumerates the staging directories and their mtimes.
func (b *Backend) ListChunkDirs(ctx context.Context) ([]ChunkDirInfo, error) {
	entries, err := os.ReadDir(filepath.Join(b.hotPath, tempDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list chunk directories: %w", err)
	}

	var dirs []ChunkDirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, ChunkDirInfo{SessionID: e.Name(), ModTime: info.ModTime()})
	}
	return dirs, nil
}

// TierStats summarizes one tier's contents.
type TierStats struct {
	Objects int64 `json:"objects"`
	Bytes   int64 `json:"bytes"`
}

// Stats walks both tiers and reports object counts and byte totals.
func (b *Backend) Stats(ctx context.Context) (map[model.StorageTier]TierStats, error) {
	stats := make(map[model.StorageTier]TierStats, 2)
	for _, tier := range []model.StorageTier{model.TierHot, model.TierCold} {
		var ts TierStats
		root := b.tierPath(tier)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			if d.IsDir() {
				// staging lives under the hot root but is not tier inventory
				if tier == model.TierHot && path == filepath.Join(root, tempDirName) {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			ts.Objects++
			ts.Bytes += info.Size()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s tier: %w", tier, err)
		}
		stats[tier] = ts
	}
	return stats, nil
}

// HealthCheck verifies both tier roots are writable by round-tripping a probe
// file.
func (b *Backend) HealthCheck(ctx context.Context) error {
	for _, tier := range []model.StorageTier{model.TierHot, model.TierCold} {
		probe := filepath.Join(b.tierPath(tier), ".health")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			return fmt.Errorf("%s tier not writable: %w", tier, err)
		}
		if err := os.Remove(probe); err != nil {
			return fmt.Errorf("%s tier probe cleanup failed: %w", tier, err)
		}
	}
	return nil
}
