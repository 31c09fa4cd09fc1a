package event

import "github.com/tidestore/tidestore/internal/logger"

// LogSink writes events to the process logger as structured records.
// Failure-flavored events log at warn level, the rest at info.
type LogSink struct{}

var warnEvents = map[string]bool{
	UploadFailed:     true,
	DownloadSideErr:  true,
	MigrationFailed:  true,
	WorkerItemFailed: true,
	RateLimited:      true,
	AbuseScored:      true,
	IPBlocked:        true,
}

// Emit implements Sink.
func (LogSink) Emit(name string, kv ...any) {
	if warnEvents[name] {
		logger.Warn(name, kv...)
		return
	}
	logger.Info(name, kv...)
}
