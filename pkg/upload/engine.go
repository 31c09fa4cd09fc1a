// Package upload implements the chunked upload engine: session lifecycle,
// chunk validation, durable plus volatile state, and assembly with integrity
// verification.
//
// State lives in two places while a session is live. The durable record is
// the system of record; a denormalized JSON copy and the set of completed
// chunk indices live in the volatile store for hot-path reads. The volatile
// chunk set is the idempotence arbiter for duplicate chunk posts; readers
// tolerate brief divergence between the two.
package upload

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

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
	// ChunkSize is the fixed chunk size handed to clients at init.
	ChunkSize int64

	// SessionTTL bounds how long an idle session stays resumable.
	SessionTTL time.Duration

	// ExpiryDaysFree is the TTL in days granted to files of free-tier users.
	// Premium and admin files never expire.
	ExpiryDaysFree int
}

// Engine coordinates chunked uploads.
type Engine struct {
	meta  *metadata.Store
	cache volatile.Store
	blobs *blob.Backend
	quota *quota.Accountant
	sink  event.Sink
	cfg   Config

	now func() time.Time
}

// New creates an upload engine.
func New(meta *metadata.Store, cache volatile.Store, blobs *blob.Backend, accountant *quota.Accountant, sink event.Sink, cfg Config) *Engine {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Engine{
		meta:  meta,
		cache: cache,
		blobs: blobs,
		quota: accountant,
		sink:  sink,
		cfg:   cfg,
		now:   time.Now,
	}
}

// InitRequest carries the parameters of a new upload session.
type InitRequest struct {
	UserID       string
	Filename     string
	TotalSize    int64
	ExpectedHash string // sha-256 hex, optional
	MimeType     string // optional, resolved from extension when empty
	FolderID     *string
}

// InitResult is returned to the client so it can drive the chunk protocol.
type InitResult struct {
	SessionID   string    `json:"session_id"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	ExpiresAt   time.Time `json:"expires_at"`
	UploadURLs  []string  `json:"upload_urls"`
}

// Init validates the request, reserves a session, and caches a denormalized
// copy in the volatile store.
func (e *Engine) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	filename, err := SanitizeFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	if req.TotalSize <= 0 {
		return nil, errs.Validation("file size must be positive")
	}

	if req.FolderID != nil {
		if _, err := e.meta.GetFolder(ctx, req.UserID, *req.FolderID); err != nil {
			return nil, err
		}
	}

	decision, err := e.quota.CanUpload(ctx, req.UserID, req.TotalSize)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		code := errs.CodeValidation
		for _, r := range decision.Reasons {
			if r.Code == quota.ReasonFileTooLarge {
				code = errs.CodeFileSizeLimit
			}
		}
		return nil, errs.New(code, "upload exceeds quota limits").With("reasons", decision.Reasons)
	}

	now := e.now()
	session := &model.UploadSession{
		SessionID:      uuid.New().String(),
		UserID:         req.UserID,
		Filename:       filename,
		MimeType:       ResolveMimeType(req.MimeType, filename),
		TotalSize:      req.TotalSize,
		ExpectedHash:   req.ExpectedHash,
		FolderID:       req.FolderID,
		ChunkSize:      e.cfg.ChunkSize,
		TotalChunks:    model.TotalChunksFor(req.TotalSize, e.cfg.ChunkSize),
		Status:         model.SessionPending,
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(e.cfg.SessionTTL),
	}

	if err := e.meta.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	e.cacheSession(ctx, session)

	e.sink.Emit(event.UploadInitialized,
		"session_id", session.SessionID,
		"user_id", session.UserID,
		"filename", session.Filename,
		"total_size", session.TotalSize,
		"total_chunks", session.TotalChunks,
	)

	return &InitResult{
		SessionID:   session.SessionID,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
		ExpiresAt:   session.ExpiresAt,
		UploadURLs:  uploadURLs(session.SessionID, session.TotalChunks),
	}, nil
}

// uploadURLs synthesizes the client guide for posting chunks.
func uploadURLs(sessionID string, totalChunks int) []string {
	urls := make([]string, totalChunks)
	for i := range urls {
		urls[i] = fmt.Sprintf("/api/uploads/%s/chunks/%d", sessionID, i)
	}
	return urls
}

// ChunkStatus values returned by Chunk.
const (
	ChunkUploaded        = "uploaded"
	ChunkAlreadyUploaded = "already_uploaded"
)

// ChunkResult reports the session's progress after a chunk post.
type ChunkResult struct {
	Status          string  `json:"status"`
	ChunkIndex      int     `json:"chunk_index"`
	CompletedChunks int     `json:"completed_chunks"`
	TotalChunks     int     `json:"total_chunks"`
	Progress        float64 `json:"progress"`
}

// Chunk validates and persists one chunk. Duplicate posts by index are
// idempotent: the volatile set membership is the arbiter, and a duplicate
// returns already_uploaded without re-ingesting the bytes.
func (e *Engine) Chunk(ctx context.Context, sessionID string, chunkIndex int, data []byte, providedHash string) (*ChunkResult, error) {
	session, err := e.resolveLiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return nil, errs.ChunkValidation(
			fmt.Sprintf("chunk index out of range [0, %d)", session.TotalChunks), chunkIndex)
	}

	chunkSetKey := volatile.PrefixChunks + sessionID
	already, err := e.cache.SIsMember(ctx, chunkSetKey, strconv.Itoa(chunkIndex))
	if err != nil {
		if errors.Is(err, volatile.ErrUnavailable) {
			return nil, errs.New(errs.CodeServiceUnavailable, "session coordination unavailable")
		}
		return nil, err
	}
	if already {
		return e.progressResult(ctx, session, chunkIndex, ChunkAlreadyUploaded), nil
	}

	if expected := session.ExpectedChunkSize(chunkIndex); int64(len(data)) != expected {
		return nil, errs.ChunkValidation(
			fmt.Sprintf("chunk size %d does not match expected %d", len(data), expected), chunkIndex)
	}

	sum := md5.Sum(data)
	chunkHash := hex.EncodeToString(sum[:])
	if providedHash != "" {
		if subtle.ConstantTimeCompare([]byte(chunkHash), []byte(providedHash)) != 1 {
			return nil, errs.ChunkValidation("chunk hash mismatch", chunkIndex)
		}
	}

	if err := e.blobs.WriteChunk(ctx, sessionID, chunkIndex, data); err != nil {
		return nil, errs.Storage("failed to persist chunk", err)
	}

	pipe := e.cache.TxPipeline()
	pipe.SAdd(chunkSetKey, strconv.Itoa(chunkIndex))
	pipe.Expire(chunkSetKey, e.cfg.SessionTTL)
	if err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, volatile.ErrUnavailable) {
			return nil, errs.New(errs.CodeServiceUnavailable, "session coordination unavailable")
		}
		return nil, err
	}

	now := e.now()
	record := model.ChunkRecord{
		Index:       chunkIndex,
		Size:        int64(len(data)),
		Hash:        chunkHash,
		CompletedAt: now,
	}
	if err := e.meta.AppendChunk(ctx, sessionID, record); err != nil {
		return nil, err
	}

	session.CompletedChunks = append(session.CompletedChunks, record)
	session.LastActivityAt = now
	if session.Status == model.SessionPending {
		session.Status = model.SessionUploading
	}
	e.cacheSession(ctx, session)

	e.sink.Emit(event.UploadChunk,
		"session_id", sessionID,
		"chunk_index", chunkIndex,
		"size", int64(len(data)),
	)

	return e.progressResult(ctx, session, chunkIndex, ChunkUploaded), nil
}

func (e *Engine) progressResult(ctx context.Context, session *model.UploadSession, chunkIndex int, status string) *ChunkResult {
	completed := len(e.completedIndices(ctx, session))
	return &ChunkResult{
		Status:          status,
		ChunkIndex:      chunkIndex,
		CompletedChunks: completed,
		TotalChunks:     session.TotalChunks,
		Progress:        float64(completed) / float64(session.TotalChunks),
	}
}

// completedIndices unions durable chunk records with the volatile set;
// volatile wins on conflict as the in-flight source of truth.
func (e *Engine) completedIndices(ctx context.Context, session *model.UploadSession) map[int]bool {
	done := make(map[int]bool, session.TotalChunks)
	for _, c := range session.CompletedChunks {
		done[c.Index] = true
	}
	members, err := e.cache.SMembers(ctx, volatile.PrefixChunks+session.SessionID)
	if err == nil {
		for _, m := range members {
			if i, err := strconv.Atoi(m); err == nil {
				done[i] = true
			}
		}
	}
	return done
}

// StatusResult is the union of durable and volatile session state.
type StatusResult struct {
	SessionID       string              `json:"session_id"`
	Status          model.SessionStatus `json:"status"`
	TotalChunks     int                 `json:"total_chunks"`
	CompletedChunks int                 `json:"completed_chunks"`
	RemainingChunks []int               `json:"remaining_chunks"`
	Progress        float64             `json:"progress"`
	ExpiresAt       time.Time           `json:"expires_at"`
	FileID          *string             `json:"file_id,omitempty"`
	UploadURLs      []string            `json:"upload_urls,omitempty"`
}

// Status reports a session's progress.
func (e *Engine) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	session, err := e.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.statusOf(ctx, session, false), nil
}

// Resume is Status plus the synthesized upload URLs so clients can continue
// without remembering them.
func (e *Engine) Resume(ctx context.Context, sessionID, userID string) (*StatusResult, error) {
	session, err := e.resolveLiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, errs.Authorization("session belongs to another user")
	}
	return e.statusOf(ctx, session, true), nil
}

func (e *Engine) statusOf(ctx context.Context, session *model.UploadSession, withURLs bool) *StatusResult {
	done := e.completedIndices(ctx, session)
	var remaining []int
	for i := 0; i < session.TotalChunks; i++ {
		if !done[i] {
			remaining = append(remaining, i)
		}
	}

	res := &StatusResult{
		SessionID:       session.SessionID,
		Status:          session.Status,
		TotalChunks:     session.TotalChunks,
		CompletedChunks: len(done),
		RemainingChunks: remaining,
		Progress:        float64(len(done)) / float64(session.TotalChunks),
		ExpiresAt:       session.ExpiresAt,
		FileID:          session.FileID,
	}
	if withURLs {
		res.UploadURLs = uploadURLs(session.SessionID, session.TotalChunks)
	}
	return res
}

// Complete verifies all chunks are present, assembles the blob, verifies
// integrity, and creates the file record.
func (e *Engine) Complete(ctx context.Context, sessionID, userID string) (*model.File, error) {
	session, err := e.resolveLiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, errs.Authorization("session belongs to another user")
	}

	done := e.completedIndices(ctx, session)
	if len(done) != session.TotalChunks {
		return nil, errs.New(errs.CodeUploadIncomplete,
			fmt.Sprintf("%d of %d chunks uploaded", len(done), session.TotalChunks)).
			With("completedChunks", len(done)).
			With("totalChunks", session.TotalChunks)
	}

	if err := e.meta.SetSessionStatus(ctx, sessionID, model.SessionAssembling, ""); err != nil {
		return nil, err
	}

	storageKey := NewStorageKey(userID, session.Filename)
	tier := InitialTier(userID)

	result, err := e.blobs.AssembleChunks(ctx, sessionID, storageKey, session.TotalChunks, tier)
	if err != nil {
		e.failSession(ctx, sessionID, "ASSEMBLY_FAILED")
		return nil, errs.Storage("failed to assemble chunks", err)
	}

	if session.ExpectedHash != "" {
		if subtle.ConstantTimeCompare([]byte(result.Hash), []byte(session.ExpectedHash)) != 1 {
			_ = e.blobs.Delete(ctx, storageKey, tier)
			e.failSession(ctx, sessionID, string(errs.CodeHashMismatch))
			return nil, errs.New(errs.CodeHashMismatch, "assembled file hash does not match expected hash").
				With("expected", session.ExpectedHash).
				With("actual", result.Hash)
		}
	}

	user, err := e.meta.GetUser(ctx, userID)
	if err != nil {
		_ = e.blobs.Delete(ctx, storageKey, tier)
		e.failSession(ctx, sessionID, "USER_LOOKUP_FAILED")
		return nil, err
	}

	now := e.now()
	var expiresAt *time.Time
	if !user.Role.Unlimited() {
		t := now.Add(time.Duration(e.cfg.ExpiryDaysFree) * 24 * time.Hour)
		expiresAt = &t
	}

	file := &model.File{
		UserID:       userID,
		FolderID:     session.FolderID,
		StorageKey:   storageKey,
		OriginalName: session.Filename,
		MimeType:     session.MimeType,
		Size:         result.Size,
		Hash:         result.Hash,
		StorageTier:  tier,
		LastAccessAt: now,
		ExpiresAt:    expiresAt,
	}
	fileID, err := e.meta.CreateFile(ctx, file)
	if err != nil {
		_ = e.blobs.Delete(ctx, storageKey, tier)
		e.failSession(ctx, sessionID, "FILE_CREATE_FAILED")
		return nil, err
	}

	if err := e.quota.AddFile(ctx, userID, result.Size); err != nil {
		// Accounting drift is repaired by SyncFromFiles; the upload succeeded
		e.sink.Emit(event.WorkerItemFailed, "op", "quota_add_file", "user_id", userID, "error", err.Error())
	}

	session.Status = model.SessionCompleted
	session.FileID = &fileID
	session.StorageTier = &tier
	session.CompletedAt = &now
	if err := e.meta.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	_ = e.blobs.DeleteChunks(ctx, sessionID)
	e.evictSession(ctx, sessionID)

	e.sink.Emit(event.UploadCompleted,
		"session_id", sessionID,
		"file_id", fileID,
		"user_id", userID,
		"size", result.Size,
		"tier", string(tier),
	)

	return file, nil
}

// Abort cancels a session and removes its chunks. Idempotent: aborting an
// unknown session succeeds.
func (e *Engine) Abort(ctx context.Context, sessionID, userID string) error {
	session, err := e.resolveSession(ctx, sessionID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) || errs.Is(err, errs.CodeSessionExpired) {
			return nil
		}
		return err
	}
	if session.UserID != userID {
		return errs.Authorization("session belongs to another user")
	}
	if session.Status.Terminal() {
		return nil
	}

	if err := e.blobs.DeleteChunks(ctx, sessionID); err != nil {
		return errs.Storage("failed to delete chunks", err)
	}
	if err := e.meta.SetSessionStatus(ctx, sessionID, model.SessionFailed, "ABORTED"); err != nil {
		return err
	}
	e.evictSession(ctx, sessionID)

	e.sink.Emit(event.UploadAborted, "session_id", sessionID, "user_id", userID)
	return nil
}

// failSession marks a session failed and evicts its cache, best-effort.
func (e *Engine) failSession(ctx context.Context, sessionID, reason string) {
	if err := e.meta.SetSessionStatus(ctx, sessionID, model.SessionFailed, reason); err != nil {
		e.sink.Emit(event.WorkerItemFailed, "op", "fail_session", "session_id", sessionID, "error", err.Error())
	}
	e.evictSession(ctx, sessionID)
	e.sink.Emit(event.UploadFailed, "session_id", sessionID, "reason", reason)
}

// resolveSession loads a session, preferring the volatile cache and
// rehydrating it from the durable record on a miss. Cache unavailability
// degrades to a durable read.
func (e *Engine) resolveSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	if raw, err := e.cache.Get(ctx, volatile.PrefixSession+sessionID); err == nil {
		var session model.UploadSession
		if jsonErr := json.Unmarshal([]byte(raw), &session); jsonErr == nil {
			return &session, nil
		}
	}

	session, err := e.meta.GetSession(ctx, sessionID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, errs.SessionExpired(sessionID)
		}
		return nil, err
	}
	e.cacheSession(ctx, session)
	return session, nil
}

// resolveLiveSession additionally rejects terminal and TTL-expired sessions.
func (e *Engine) resolveLiveSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	session, err := e.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() || e.now().After(session.ExpiresAt) {
		return nil, errs.SessionExpired(sessionID)
	}
	return session, nil
}

// cacheSession writes the denormalized copy, best-effort.
func (e *Engine) cacheSession(ctx context.Context, session *model.UploadSession) {
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, volatile.PrefixSession+session.SessionID, string(raw), e.cfg.SessionTTL)
}

// evictSession drops the cached copy and the chunk set.
func (e *Engine) evictSession(ctx context.Context, sessionID string) {
	_ = e.cache.Delete(ctx, volatile.PrefixSession+sessionID, volatile.PrefixChunks+sessionID)
}
