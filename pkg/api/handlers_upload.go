package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/ratelimit"
	"github.com/tidestore/tidestore/pkg/upload"
)

// uploadHandler serves the chunked upload session routes.
type uploadHandler struct {
	engine    *upload.Engine
	gate      *ratelimit.AbuseGate
	chunkSize int64
}

func newUploadHandler(engine *upload.Engine, gate *ratelimit.AbuseGate, chunkSize int64) *uploadHandler {
	return &uploadHandler{engine: engine, gate: gate, chunkSize: chunkSize}
}

type initUploadRequest struct {
	Filename     string  `json:"filename"`
	TotalSize    int64   `json:"total_size"`
	ExpectedHash string  `json:"expected_hash,omitempty"`
	MimeType     string  `json:"mime_type,omitempty"`
	FolderID     *string `json:"folder_id,omitempty"`
}

// Init starts an upload session.
func (h *uploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req initUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.engine.Init(r.Context(), upload.InitRequest{
		UserID:       principal.UserID,
		Filename:     req.Filename,
		TotalSize:    req.TotalSize,
		ExpectedHash: req.ExpectedHash,
		MimeType:     req.MimeType,
		FolderID:     req.FolderID,
	})
	if err != nil {
		h.trackViolation(r, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Chunk ingests one chunk. The optional X-Chunk-Hash header carries the
// client's md5 of the body.
func (h *uploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, errs.Validation("chunk index must be an integer"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.chunkSize)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, errs.New(errs.CodeFileSizeLimit, "chunk exceeds the configured chunk size"))
			return
		}
		writeError(w, r, errs.Validation("failed to read chunk body"))
		return
	}

	result, err := h.engine.Chunk(r.Context(), sessionID, index, data, r.Header.Get("X-Chunk-Hash"))
	if err != nil {
		h.trackViolation(r, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// trackViolation scores abuse-relevant failures against the client IP.
// The decision branches on the typed error, not on the response status:
// chunk validation failures and path traversal attempts count, ordinary
// validation noise does not.
func (h *uploadHandler) trackViolation(r *http.Request, err error) {
	var typed *errs.Error
	if !errors.As(err, &typed) {
		return
	}
	switch {
	case typed.Code == errs.CodeChunkValidation:
		h.gate.Record(r.Context(), clientIP(r), "chunk_validation")
	case typed.Context["violation"] == upload.ViolationPathTraversal:
		h.gate.Record(r.Context(), clientIP(r), upload.ViolationPathTraversal)
	}
}

// Status reports session progress.
func (h *uploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Complete assembles the file and returns its record.
func (h *uploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	file, err := h.engine.Complete(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// Abort cancels a session.
func (h *uploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if err := h.engine.Abort(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// Resume returns session progress plus the chunk upload URLs.
func (h *uploadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	result, err := h.engine.Resume(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
