// Package event defines the sink through which the core emits structured
// events. Engines and workers never touch a logger or metrics registry
// directly; they publish named events and the configured sinks fan them out.
package event

// Well-known event names emitted by the core.
const (
	UploadInitialized = "upload_initialized"
	UploadChunk       = "upload_chunk"
	UploadCompleted   = "upload_completed"
	UploadFailed      = "upload_failed"
	UploadAborted     = "upload_aborted"

	DownloadServed   = "download_served"
	DownloadCounted  = "download_counted"
	DownloadSideErr  = "download_side_effect_error"
	BandwidthTracked = "bandwidth_tracked"

	FileExpired      = "file_expired"
	TierMigrated     = "tier_migrated"
	MigrationFailed  = "migration_failed"
	SessionSwept     = "session_swept"
	OrphanRemoved    = "orphan_removed"
	SessionPurged    = "session_purged"
	WorkerSweepDone  = "worker_sweep_done"
	WorkerItemFailed = "worker_item_failed"

	RateLimited = "rate_limited"
	AbuseScored = "abuse_scored"
	IPBlocked   = "ip_blocked"
)

// Sink receives structured events. Fields follow the slog convention of
// alternating key/value pairs. Implementations must be safe for concurrent
// use and must never panic; the core calls Emit on hot paths.
type Sink interface {
	Emit(name string, kv ...any)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(string, ...any) {}

// MultiSink fans events out to every member sink.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(name string, kv ...any) {
	for _, s := range m {
		s.Emit(name, kv...)
	}
}
