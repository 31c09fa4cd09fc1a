// Package download implements the range-capable download engine: metadata
// resolution through the volatile cache, access checks, byte-range streaming,
// and fire-and-forget counter and bandwidth side effects.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/access"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// Config holds the engine's tunables.
type Config struct {
	// CacheTTL bounds the volatile metadata cache entry per file.
	CacheTTL time.Duration

	// ExtensionDays is how far a download pushes out a file's expiry.
	ExtensionDays int
}

// Engine serves file content.
type Engine struct {
	meta   *metadata.Store
	cache  volatile.Store
	blobs  *blob.Backend
	policy *access.Policy
	quota  *quota.Accountant
	sink   event.Sink
	cfg    Config

	now func() time.Time

	// spawn runs the post-stream side effects. Replaced in tests to run
	// them inline.
	spawn func(func())
}

// New creates a download engine.
func New(meta *metadata.Store, cache volatile.Store, blobs *blob.Backend, policy *access.Policy, accountant *quota.Accountant, sink event.Sink, cfg Config) *Engine {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Engine{
		meta:   meta,
		cache:  cache,
		blobs:  blobs,
		policy: policy,
		quota:  accountant,
		sink:   sink,
		cfg:    cfg,
		now:    time.Now,
		spawn:  func(fn func()) { go fn() },
	}
}

// Request carries the caller's identity and range intent.
type Request struct {
	FileID      string
	UserID      string // empty for anonymous
	Password    string
	RangeHeader string // empty for full download
}

// Result is a prepared download: an open stream plus the HTTP framing.
type Result struct {
	File    *model.File
	Body    io.ReadCloser
	Status  int // 200 or 206
	Start   int64
	End     int64 // inclusive
	Length  int64
	Headers map[string]string
}

// Prepare resolves metadata, authorizes the caller, computes the byte range,
// and opens the stream. Counter and bandwidth updates are spawned off the
// request path and never fail the download.
func (e *Engine) Prepare(ctx context.Context, req Request) (*Result, error) {
	file, err := e.resolveFile(ctx, req.FileID)
	if err != nil {
		return nil, err
	}

	if err := e.policy.Check(ctx, file, req.UserID, req.Password); err != nil {
		return nil, err
	}

	start, end := int64(0), file.Size-1
	status := 200
	if req.RangeHeader != "" {
		start, end, err = ParseRange(req.RangeHeader, file.Size)
		if err != nil {
			return nil, err
		}
		status = 206
	}
	length := end - start + 1

	body, err := e.blobs.OpenRange(ctx, file.StorageKey, file.StorageTier, start, end)
	if err != nil {
		return nil, errs.Storage("failed to open file content", err)
	}

	res := &Result{
		File:    file,
		Body:    body,
		Status:  status,
		Start:   start,
		End:     end,
		Length:  length,
		Headers: responseHeaders(file, status, start, end, length),
	}

	e.sink.Emit(event.DownloadServed,
		"file_id", file.ID,
		"user_id", req.UserID,
		"bytes", length,
		"status", status,
	)
	e.spawn(func() { e.sideEffects(file, req.UserID, status, length) })

	return res, nil
}

// resolveFile checks the volatile metadata cache, falls back to the durable
// store, and rehydrates the cache on a miss. Deleted and expired files are
// reported as absent.
func (e *Engine) resolveFile(ctx context.Context, fileID string) (*model.File, error) {
	key := volatile.PrefixFile + fileID
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var file model.File
		if jsonErr := json.Unmarshal([]byte(raw), &file); jsonErr == nil {
			if file.IsDeleted || file.IsExpired(e.now()) {
				return nil, errs.NotFound("file")
			}
			return &file, nil
		}
	}

	file, err := e.meta.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsExpired(e.now()) {
		return nil, errs.NotFound("file")
	}

	if raw, err := json.Marshal(file); err == nil {
		_ = e.cache.Set(ctx, key, string(raw), e.cfg.CacheTTL)
	}
	return file, nil
}

// responseHeaders builds the download framing. The filename is URL-encoded
// to survive header transport.
func responseHeaders(file *model.File, status int, start, end, length int64) map[string]string {
	h := map[string]string{
		"Content-Type":        file.MimeType,
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(file.OriginalName)),
		"Accept-Ranges":       "bytes",
		"Cache-Control":       "private, max-age=3600",
		"ETag":                fmt.Sprintf(`"%s-%d"`, file.ID, file.Size),
		"Content-Length":      fmt.Sprintf("%d", length),
	}
	if status == 206 {
		h["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", start, end, file.Size)
	}
	return h
}

// sideEffects runs off the request path. Full downloads bump the counter and
// extend expiry; bandwidth is tracked for every authenticated download.
// Errors are logged and reported through the sink, never to the client.
func (e *Engine) sideEffects(file *model.File, userID string, status int, bytes int64) {
	ctx := context.Background()
	now := e.now()

	if status == 200 {
		var extendTo *time.Time
		if file.ExpiresAt != nil {
			t := now.Add(time.Duration(e.cfg.ExtensionDays) * 24 * time.Hour)
			extendTo = &t
		}
		if err := e.meta.RecordDownload(ctx, file.ID, now, extendTo); err != nil {
			logger.Warn("failed to record download",
				logger.KeyFileID, file.ID, logger.KeyError, err)
			e.sink.Emit(event.DownloadSideErr, "file_id", file.ID, "op", "record_download", "error", err.Error())
		} else {
			e.sink.Emit(event.DownloadCounted, "file_id", file.ID)
		}
		_ = e.cache.Delete(ctx, volatile.PrefixFile+file.ID)
	}

	if userID != "" {
		if err := e.quota.AddBandwidth(ctx, userID, bytes); err != nil {
			logger.Warn("failed to track bandwidth",
				logger.KeyUserID, userID, logger.KeyError, err)
			e.sink.Emit(event.DownloadSideErr, "file_id", file.ID, "op", "track_bandwidth", "error", err.Error())
		} else {
			e.sink.Emit(event.BandwidthTracked, "user_id", userID, "bytes", bytes)
		}
	}
}
