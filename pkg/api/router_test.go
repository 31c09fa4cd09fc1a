package api

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestore/tidestore/pkg/access"
	"github.com/tidestore/tidestore/pkg/auth"
	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/download"
	"github.com/tidestore/tidestore/pkg/folder"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/ratelimit"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile/memory"
	"github.com/tidestore/tidestore/pkg/upload"
)

const testChunkSize = 64

// httptest.NewRequest hands every request this client address.
const testClientIP = "192.0.2.1"

type apiFixture struct {
	handler http.Handler
	meta    *metadata.Store
	cache   *memory.Store
}

func newAPIFixture(t *testing.T, rl config.RateLimitConfig) *apiFixture {
	t.Helper()

	meta, err := metadata.OpenTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	cache := memory.New()
	dir := t.TempDir()
	blobs, err := blob.New(blob.Config{
		HotPath:  filepath.Join(dir, "hot"),
		ColdPath: filepath.Join(dir, "cold"),
	})
	require.NoError(t, err)

	accountant := quota.New(meta)
	policy := access.NewPolicy(meta)
	authSvc := auth.New(meta, cache, config.AuthConfig{
		JWTSecret:       "test-secret-not-for-production",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	uploads := upload.New(meta, cache, blobs, accountant, nil, upload.Config{
		ChunkSize:      testChunkSize,
		SessionTTL:     time.Hour,
		ExpiryDaysFree: 30,
	})
	downloads := download.New(meta, cache, blobs, policy, accountant, nil, download.Config{
		CacheTTL:      5 * time.Minute,
		ExtensionDays: 5,
	})

	handler := NewRouter(Deps{
		Meta:      meta,
		Cache:     cache,
		Blobs:     blobs,
		Uploads:   uploads,
		Download:  downloads,
		Folders:   folder.NewTree(meta, blobs, cache, accountant),
		Quota:     accountant,
		Auth:      authSvc,
		Limiter:   ratelimit.New(cache, rl, nil),
		Gate:      ratelimit.NewAbuseGate(cache, rl.AbuseThreshold, rl.AbuseWindow, nil),
		ChunkSize: testChunkSize,
	})

	return &apiFixture{handler: handler, meta: meta, cache: cache}
}

// permissiveLimits leaves every request type unconfigured so nothing is
// throttled unless a test opts in.
func permissiveLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		AbuseThreshold: 10,
		AbuseWindow:    time.Hour,
	}
}

func (fx *apiFixture) do(t *testing.T, method, path, token string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func (fx *apiFixture) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return fx.do(t, method, path, token, body, map[string]string{"Content-Type": "application/json"})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out),
		"failed to decode response %q", rec.Body.String())
	return out
}

// errorCode extracts the code out of the error envelope.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]map[string]any](t, rec)
	envelope, ok := body["error"]
	require.True(t, ok, "response is not an error envelope: %s", rec.Body.String())
	code, _ := envelope["code"].(string)
	return code
}

// registerAndLogin provisions a user over the API and returns an access token.
func (fx *apiFixture) registerAndLogin(t *testing.T, email string) string {
	t.Helper()
	creds := map[string]string{"email": email, "password": "correct-horse-battery"}

	rec := fx.doJSON(t, http.MethodPost, "/api/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = fx.doJSON(t, http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pair := decodeBody[map[string]string](t, rec)
	require.NotEmpty(t, pair["access_token"])
	require.NotEmpty(t, pair["refresh_token"])
	return pair["access_token"]
}

func TestHealthEndpoints(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())

	rec := fx.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/health/ready", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A dead volatile store flips readiness but not liveness
	fx.cache.SetUnavailable(true)
	rec = fx.do(t, http.MethodGet, "/health/ready", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = fx.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorEnvelopeShape(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())

	rec := fx.do(t, http.MethodGet, "/api/files/no-such-file/download", "", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody[map[string]map[string]any](t, rec)
	envelope := body["error"]
	assert.Equal(t, "NOT_FOUND", envelope["code"])
	assert.Equal(t, float64(404), envelope["statusCode"])
	assert.NotEmpty(t, envelope["message"])
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())

	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/uploads"},
		{http.MethodPost, "/api/folders"},
		{http.MethodGet, "/api/auth/quota"},
	}
	for _, tc := range paths {
		rec := fx.do(t, tc.method, tc.path, "", []byte("{}"), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "AUTHENTICATION_ERROR", errorCode(t, rec), "%s %s", tc.method, tc.path)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())

	rec := fx.do(t, http.MethodGet, "/health", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code,
		"a garbage bearer token is rejected even on open routes")
}

func TestRegisterLoginQuotaFlow(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())

	token := fx.registerAndLogin(t, "alice@example.com")

	// Duplicate registration conflicts
	rec := fx.doJSON(t, http.MethodPost, "/api/auth/register",
		"", map[string]string{"email": "alice@example.com", "password": "another-password"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/auth/quota", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, summary)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())
	token := fx.registerAndLogin(t, "alice@example.com")

	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	fullHash := sha256.Sum256(content)

	rec := fx.doJSON(t, http.MethodPost, "/api/uploads", token, map[string]any{
		"filename":      "report.bin",
		"total_size":    len(content),
		"expected_hash": hex.EncodeToString(fullHash[:]),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	init := decodeBody[map[string]any](t, rec)
	sessionID, _ := init["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, float64(testChunkSize), init["chunk_size"])
	assert.Equal(t, float64(2), init["total_chunks"])

	for i, chunk := range [][]byte{content[:testChunkSize], content[testChunkSize:]} {
		sum := md5.Sum(chunk)
		rec = fx.do(t, http.MethodPost,
			fmt.Sprintf("/api/uploads/%s/chunks/%d", sessionID, i), token, chunk,
			map[string]string{"X-Chunk-Hash": hex.EncodeToString(sum[:])})
		require.Equal(t, http.StatusOK, rec.Code, "chunk %d: %s", i, rec.Body.String())

		progress := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "uploaded", progress["status"])
		assert.Equal(t, float64(i+1), progress["completed_chunks"])
	}

	rec = fx.do(t, http.MethodPost, "/api/uploads/"+sessionID+"/complete", token, nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	file := decodeBody[map[string]any](t, rec)
	fileID, _ := file["id"].(string)
	require.NotEmpty(t, fileID)
	assert.Equal(t, float64(len(content)), file["size"])
	assert.Equal(t, "report.bin", file["original_name"])

	rec = fx.do(t, http.MethodGet, "/api/files/"+fileID+"/download", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, content, rec.Body.Bytes())

	rec = fx.do(t, http.MethodGet, "/api/files/"+fileID+"/download", token, nil,
		map[string]string{"Range": "bytes=10-19"})
	require.Equal(t, http.StatusPartialContent, rec.Code, rec.Body.String())
	assert.Equal(t, "bytes 10-19/100", rec.Header().Get("Content-Range"))
	assert.Equal(t, content[10:20], rec.Body.Bytes())

	// The file is private, so an anonymous read is refused
	rec = fx.do(t, http.MethodGet, "/api/files/"+fileID+"/download", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChunkBodyTooLarge(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())
	token := fx.registerAndLogin(t, "alice@example.com")

	rec := fx.doJSON(t, http.MethodPost, "/api/uploads", token, map[string]any{
		"filename":   "big.bin",
		"total_size": 200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sessionID := decodeBody[map[string]any](t, rec)["session_id"].(string)

	oversized := make([]byte, testChunkSize+1)
	rec = fx.do(t, http.MethodPost, "/api/uploads/"+sessionID+"/chunks/0", token, oversized, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "FILE_SIZE_LIMIT", errorCode(t, rec))
}

func TestChunkHashMismatchScoresAbuse(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())
	token := fx.registerAndLogin(t, "alice@example.com")

	rec := fx.doJSON(t, http.MethodPost, "/api/uploads", token, map[string]any{
		"filename":   "f.bin",
		"total_size": testChunkSize,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sessionID := decodeBody[map[string]any](t, rec)["session_id"].(string)

	chunk := make([]byte, testChunkSize)
	rec = fx.do(t, http.MethodPost, "/api/uploads/"+sessionID+"/chunks/0", token, chunk,
		map[string]string{"X-Chunk-Hash": "deadbeefdeadbeefdeadbeefdeadbeef"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "CHUNK_VALIDATION_ERROR", errorCode(t, rec))

	score, err := fx.cache.Get(context.Background(), "abuse:"+testClientIP)
	require.NoError(t, err)
	assert.Equal(t, "1", score, "the violation scores the client IP")
}

func TestRateLimitReturns429(t *testing.T) {
	rl := permissiveLimits()
	rl.Download = map[string]config.RateLimitRule{
		"anonymous": {Limit: 1, Window: time.Minute},
	}
	fx := newAPIFixture(t, rl)

	// The first request spends the budget; a missing file still counts
	rec := fx.do(t, http.MethodGet, "/api/files/x/download", "", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/files/x/download", "", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestBlockedIPIsRefusedEverywhere(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())

	require.NoError(t, fx.cache.Set(context.Background(), "blocked:"+testClientIP, "1", time.Hour))

	for _, path := range []string{"/health", "/api/auth/login", "/api/files/x/download"} {
		rec := fx.do(t, http.MethodGet, path, "", nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Equal(t, "IP_BLOCKED", errorCode(t, rec), path)
	}
}

func TestFolderRoutes(t *testing.T) {
	fx := newAPIFixture(t, permissiveLimits())
	token := fx.registerAndLogin(t, "alice@example.com")

	rec := fx.doJSON(t, http.MethodPost, "/api/folders", token, map[string]any{
		"name": "docs",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "/docs", created["path"])

	rec = fx.do(t, http.MethodGet, "/api/folders/contents", token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
