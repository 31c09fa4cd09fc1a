package upload

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile/memory"
)

const testChunkSize = 10 * 1024 * 1024

type engineFixture struct {
	engine *Engine
	meta   *metadata.Store
	cache  *memory.Store
	blobs  *blob.Backend
	quota  *quota.Accountant
	userID string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	meta, err := metadata.OpenTestDB()
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	dir := t.TempDir()
	blobs, err := blob.New(blob.Config{
		HotPath:  filepath.Join(dir, "ssd"),
		ColdPath: filepath.Join(dir, "hdd"),
	})
	if err != nil {
		t.Fatalf("failed to create blob backend: %v", err)
	}

	cache := memory.New()
	accountant := quota.New(meta)

	user := &model.User{Email: "alice@example.com", PasswordHash: "x", Role: model.RoleFree, IsActive: true}
	userID, err := meta.CreateUser(context.Background(), user)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	engine := New(meta, cache, blobs, accountant, nil, Config{
		ChunkSize:      testChunkSize,
		SessionTTL:     24 * time.Hour,
		ExpiryDaysFree: 5,
	})

	return &engineFixture{
		engine: engine,
		meta:   meta,
		cache:  cache,
		blobs:  blobs,
		quota:  accountant,
		userID: userID,
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("failed to generate random bytes: %v", err)
	}
	return buf
}

func chunksOf(data []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

func TestUploadHappyPath(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	// 25 MiB: two full chunks plus a 5 MiB tail
	data := randomBytes(t, 25*1024*1024)
	wantHash := sha256.Sum256(data)

	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "dataset.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if init.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", init.TotalChunks)
	}
	if len(init.UploadURLs) != 3 {
		t.Fatalf("expected 3 upload urls, got %d", len(init.UploadURLs))
	}

	// Post out of order
	chunks := chunksOf(data, testChunkSize)
	for _, i := range []int{1, 2, 0} {
		res, err := fx.engine.Chunk(ctx, init.SessionID, i, chunks[i], "")
		if err != nil {
			t.Fatalf("chunk %d failed: %v", i, err)
		}
		if res.Status != ChunkUploaded {
			t.Fatalf("chunk %d: expected status %q, got %q", i, ChunkUploaded, res.Status)
		}
	}

	file, err := fx.engine.Complete(ctx, init.SessionID, fx.userID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if file.Size != 26214400 {
		t.Errorf("expected size 26214400, got %d", file.Size)
	}
	if file.Hash != hex.EncodeToString(wantHash[:]) {
		t.Errorf("assembled hash does not match sha256 of source")
	}
	if file.StorageTier != model.TierHot {
		t.Errorf("expected hot tier, got %s", file.StorageTier)
	}
	if file.ExpiresAt == nil {
		t.Fatal("free-tier file should carry an expiry")
	}
	gotTTL := time.Until(*file.ExpiresAt)
	if gotTTL < 5*24*time.Hour-time.Minute || gotTTL > 5*24*time.Hour+time.Minute {
		t.Errorf("expected expiry about 5 days out, got %v", gotTTL)
	}

	summary, err := fx.quota.GetSummary(ctx, fx.userID)
	if err != nil {
		t.Fatalf("quota summary failed: %v", err)
	}
	if summary.StorageUsed != 26214400 {
		t.Errorf("expected storage 26214400, got %d", summary.StorageUsed)
	}
	if summary.FilesUsed != 1 {
		t.Errorf("expected 1 file, got %d", summary.FilesUsed)
	}

	session, err := fx.meta.GetSession(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if session.Status != model.SessionCompleted {
		t.Errorf("expected completed session, got %s", session.Status)
	}
	if session.FileID == nil || *session.FileID != file.ID {
		t.Errorf("session should reference the created file")
	}
}

func TestUploadDuplicateChunk(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "small.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	first, err := fx.engine.Chunk(ctx, init.SessionID, 0, data, "")
	if err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}
	if first.Status != ChunkUploaded {
		t.Fatalf("expected uploaded, got %q", first.Status)
	}

	second, err := fx.engine.Chunk(ctx, init.SessionID, 0, data, "")
	if err != nil {
		t.Fatalf("duplicate chunk failed: %v", err)
	}
	if second.Status != ChunkAlreadyUploaded {
		t.Fatalf("expected already_uploaded, got %q", second.Status)
	}

	session, err := fx.meta.GetSession(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	count := 0
	for _, c := range session.CompletedChunks {
		if c.Index == 0 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one record for chunk 0, got %d", count)
	}
}

func TestUploadChunkHashMismatch(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 512)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "a.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	wrong := md5.Sum([]byte("not the data"))
	_, err = fx.engine.Chunk(ctx, init.SessionID, 0, data, hex.EncodeToString(wrong[:]))
	if !errs.Is(err, errs.CodeChunkValidation) {
		t.Fatalf("expected CHUNK_VALIDATION_ERROR, got %v", err)
	}
}

func TestUploadChunkSizeMismatch(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "b.bin",
		TotalSize: 2048,
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	_, err = fx.engine.Chunk(ctx, init.SessionID, 0, make([]byte, 100), "")
	if !errs.Is(err, errs.CodeChunkValidation) {
		t.Fatalf("expected CHUNK_VALIDATION_ERROR for short chunk, got %v", err)
	}
}

func TestCompleteHashMismatchFailsSession(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 2048)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:       fx.userID,
		Filename:     "tampered.bin",
		TotalSize:    int64(len(data)),
		ExpectedHash: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := fx.engine.Chunk(ctx, init.SessionID, 0, data, ""); err != nil {
		t.Fatalf("chunk failed: %v", err)
	}

	_, err = fx.engine.Complete(ctx, init.SessionID, fx.userID)
	if !errs.Is(err, errs.CodeHashMismatch) {
		t.Fatalf("expected HASH_MISMATCH, got %v", err)
	}

	session, err := fx.meta.GetSession(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if session.Status != model.SessionFailed {
		t.Errorf("expected failed session, got %s", session.Status)
	}

	summary, err := fx.quota.GetSummary(ctx, fx.userID)
	if err != nil {
		t.Fatalf("quota summary failed: %v", err)
	}
	if summary.StorageUsed != 0 || summary.FilesUsed != 0 {
		t.Errorf("quota should be unchanged, got storage=%d files=%d",
			summary.StorageUsed, summary.FilesUsed)
	}
}

func TestCompleteIncomplete(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 15*1024*1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "partial.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	chunks := chunksOf(data, testChunkSize)
	if _, err := fx.engine.Chunk(ctx, init.SessionID, 0, chunks[0], ""); err != nil {
		t.Fatalf("chunk failed: %v", err)
	}

	_, err = fx.engine.Complete(ctx, init.SessionID, fx.userID)
	if !errs.Is(err, errs.CodeUploadIncomplete) {
		t.Fatalf("expected UPLOAD_INCOMPLETE, got %v", err)
	}
}

func TestInitRejectsZeroSize(t *testing.T) {
	fx := newEngineFixture(t)

	_, err := fx.engine.Init(context.Background(), InitRequest{
		UserID:    fx.userID,
		Filename:  "empty.bin",
		TotalSize: 0,
	})
	if !errs.Is(err, errs.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestInitRejectsOversizedFile(t *testing.T) {
	fx := newEngineFixture(t)

	// Free tier caps single files at 10 GiB
	_, err := fx.engine.Init(context.Background(), InitRequest{
		UserID:    fx.userID,
		Filename:  "huge.bin",
		TotalSize: 11 * 1024 * 1024 * 1024,
	})
	if !errs.Is(err, errs.CodeFileSizeLimit) {
		t.Fatalf("expected FILE_SIZE_LIMIT, got %v", err)
	}
}

func TestStatusAndResume(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 25*1024*1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "resume.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	chunks := chunksOf(data, testChunkSize)
	if _, err := fx.engine.Chunk(ctx, init.SessionID, 1, chunks[1], ""); err != nil {
		t.Fatalf("chunk failed: %v", err)
	}

	status, err := fx.engine.Status(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.CompletedChunks != 1 {
		t.Errorf("expected 1 completed chunk, got %d", status.CompletedChunks)
	}
	if len(status.RemainingChunks) != 2 {
		t.Errorf("expected 2 remaining chunks, got %v", status.RemainingChunks)
	}

	resume, err := fx.engine.Resume(ctx, init.SessionID, fx.userID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(resume.UploadURLs) != 3 {
		t.Errorf("resume should return all upload urls, got %d", len(resume.UploadURLs))
	}

	if _, err := fx.engine.Resume(ctx, init.SessionID, "someone-else"); !errs.Is(err, errs.CodeAuthorization) {
		t.Errorf("expected AUTHORIZATION_ERROR for foreign resume, got %v", err)
	}
}

func TestStatusRehydratesCache(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "rehydrate.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// Drop the cached copy; the durable record must carry the read
	if err := fx.cache.Delete(ctx, "upload_session:"+init.SessionID); err != nil {
		t.Fatalf("cache delete failed: %v", err)
	}

	status, err := fx.engine.Status(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("status after cache loss failed: %v", err)
	}
	if status.SessionID != init.SessionID {
		t.Errorf("unexpected session id %q", status.SessionID)
	}

	if _, err := fx.cache.Get(ctx, "upload_session:"+init.SessionID); err != nil {
		t.Errorf("cache should be rehydrated after durable read: %v", err)
	}
}

func TestChunkUnavailableVolatileStore(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "down.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	fx.cache.SetUnavailable(true)
	defer fx.cache.SetUnavailable(false)

	_, err = fx.engine.Chunk(ctx, init.SessionID, 0, data, "")
	if !errs.Is(err, errs.CodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "abort.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if err := fx.engine.Abort(ctx, init.SessionID, fx.userID); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if err := fx.engine.Abort(ctx, init.SessionID, fx.userID); err != nil {
		t.Fatalf("second abort should succeed, got %v", err)
	}
	if err := fx.engine.Abort(ctx, "no-such-session", fx.userID); err != nil {
		t.Fatalf("abort of unknown session should succeed, got %v", err)
	}

	session, err := fx.meta.GetSession(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if session.Status != model.SessionFailed {
		t.Errorf("expected failed session after abort, got %s", session.Status)
	}

	_, err = fx.engine.Chunk(ctx, init.SessionID, 0, data, "")
	if !errs.Is(err, errs.CodeSessionExpired) {
		t.Errorf("chunks after abort should see SESSION_EXPIRED, got %v", err)
	}
}

func TestExpiredSessionRejectsChunks(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	data := randomBytes(t, 1024)
	init, err := fx.engine.Init(ctx, InitRequest{
		UserID:    fx.userID,
		Filename:  "ttl.bin",
		TotalSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	fx.engine.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err = fx.engine.Chunk(ctx, init.SessionID, 0, data, "")
	if !errs.Is(err, errs.CodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
}
