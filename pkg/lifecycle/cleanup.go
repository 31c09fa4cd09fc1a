package lifecycle

import (
	"context"
	"time"

	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// CleanupWorker reclaims upload debris in three sweeps: live sessions past
// their TTL, orphaned chunk directories, and terminal session records past
// the grace window.
type CleanupWorker struct {
	*Worker

	meta  *metadata.Store
	blobs *blob.Backend
	cache volatile.Store
	cfg   config.LifecycleConfig
	now   func() time.Time
}

// NewCleanupWorker creates the cleanup sweeper.
func NewCleanupWorker(meta *metadata.Store, blobs *blob.Backend, cache volatile.Store, sink event.Sink, cfg config.LifecycleConfig) *CleanupWorker {
	w := &CleanupWorker{
		meta:  meta,
		blobs: blobs,
		cache: cache,
		cfg:   cfg,
		now:   time.Now,
	}
	w.Worker = newWorker("cleanup", cfg.Interval, sink, w.RunOnce)
	return w
}

// RunOnce runs the three sweeps in order.
func (w *CleanupWorker) RunOnce(ctx context.Context) Summary {
	var summary Summary
	w.sweepExpiredSessions(ctx, &summary)
	w.sweepOrphanChunks(ctx, &summary)
	w.purgeTerminalSessions(ctx, &summary)
	return summary
}

// sweepExpiredSessions expires live sessions past their TTL and removes
// their staged chunks.
func (w *CleanupWorker) sweepExpiredSessions(ctx context.Context, summary *Summary) {
	sessions, err := w.meta.ListExpiredLiveSessions(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		w.itemFailed(summary, "list_expired_sessions", "", err)
		return
	}
	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		if err := w.blobs.DeleteChunks(ctx, s.SessionID); err != nil {
			w.itemFailed(summary, "delete_chunks", s.SessionID, err)
			continue
		}
		if err := w.meta.SetSessionStatus(ctx, s.SessionID, model.SessionExpired, "TTL_EXPIRED"); err != nil {
			w.itemFailed(summary, "expire_session", s.SessionID, err)
			continue
		}
		_ = w.cache.Delete(ctx,
			volatile.PrefixSession+s.SessionID,
			volatile.PrefixChunks+s.SessionID,
		)
		summary.Processed++
		w.sink.Emit(event.SessionSwept, "session_id", s.SessionID, "user_id", s.UserID)
	}
}

// sweepOrphanChunks removes staging directories whose session is absent or
// terminal. Young directories are skipped; a chunk may be mid-write before
// its durable record lands.
func (w *CleanupWorker) sweepOrphanChunks(ctx context.Context, summary *Summary) {
	dirs, err := w.blobs.ListChunkDirs(ctx)
	if err != nil {
		w.itemFailed(summary, "list_chunk_dirs", "", err)
		return
	}
	cutoff := w.now().Add(-w.cfg.OrphanAge)
	for _, d := range dirs {
		if ctx.Err() != nil {
			return
		}
		if d.ModTime.After(cutoff) {
			continue
		}

		live, err := w.sessionLive(ctx, d.SessionID)
		if err != nil {
			w.itemFailed(summary, "check_session", d.SessionID, err)
			continue
		}
		if live {
			continue
		}

		if err := w.blobs.DeleteChunks(ctx, d.SessionID); err != nil {
			w.itemFailed(summary, "delete_orphan", d.SessionID, err)
			continue
		}
		summary.Processed++
		w.sink.Emit(event.OrphanRemoved, "session_id", d.SessionID)
	}
}

func (w *CleanupWorker) sessionLive(ctx context.Context, sessionID string) (bool, error) {
	live, err := w.meta.SessionLive(ctx, sessionID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return live, nil
}

// purgeTerminalSessions deletes terminal session records older than the
// grace window.
func (w *CleanupWorker) purgeTerminalSessions(ctx context.Context, summary *Summary) {
	cutoff := w.now().Add(-w.cfg.SessionGrace)
	sessions, err := w.meta.ListTerminalSessionsBefore(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		w.itemFailed(summary, "list_terminal_sessions", "", err)
		return
	}
	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		if err := w.meta.DeleteSession(ctx, s.SessionID); err != nil {
			w.itemFailed(summary, "purge_session", s.SessionID, err)
			continue
		}
		summary.Processed++
		w.sink.Emit(event.SessionPurged, "session_id", s.SessionID)
	}
}
