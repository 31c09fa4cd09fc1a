package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/download"
)

// downloadHandler streams file content.
type downloadHandler struct {
	engine *download.Engine
}

func newDownloadHandler(engine *download.Engine) *downloadHandler {
	return &downloadHandler{engine: engine}
}

// Get serves a file, honoring a single Range header. Anonymous callers reach
// public files; passwords travel in the X-File-Password header.
func (h *downloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	req := download.Request{
		FileID:      chi.URLParam(r, "fileID"),
		Password:    r.Header.Get("X-File-Password"),
		RangeHeader: r.Header.Get("Range"),
	}
	if principal := PrincipalFromContext(r.Context()); principal != nil {
		req.UserID = principal.UserID
	}

	result, err := h.engine.Prepare(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer result.Body.Close()

	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(result.Status)

	if _, err := io.Copy(w, result.Body); err != nil {
		// Headers are gone; nothing to send the client but the log
		logger.Debug("download stream interrupted",
			logger.KeyFileID, result.File.ID, logger.KeyError, err)
	}
}
