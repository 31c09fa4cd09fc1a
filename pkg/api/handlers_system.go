package api

import (
	"net/http"
	"time"

	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// systemHandler serves health and storage statistics.
type systemHandler struct {
	meta  *metadata.Store
	cache volatile.Store
	blobs *blob.Backend
}

func newSystemHandler(meta *metadata.Store, cache volatile.Store, blobs *blob.Backend) *systemHandler {
	return &systemHandler{meta: meta, cache: cache, blobs: blobs}
}

// Liveness reports the process is up.
func (h *systemHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// Readiness probes each backing store. Any failure yields 503 with the
// per-store detail.
func (h *systemHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"metadata": "ok",
		"volatile": "ok",
		"blob":     "ok",
	}
	healthy := true

	if err := h.meta.Ping(r.Context()); err != nil {
		checks["metadata"] = err.Error()
		healthy = false
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		checks["volatile"] = err.Error()
		healthy = false
	}
	if err := h.blobs.HealthCheck(r.Context()); err != nil {
		checks["blob"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	writeJSON(w, status, map[string]any{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// Stats reports per-tier object counts and byte totals.
func (h *systemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.blobs.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers":     stats,
		"timestamp": time.Now().UTC(),
	})
}
