package lifecycle

import (
	"context"
	"time"

	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// ExpiryWorker removes files whose TTL has lapsed: blob first, then a
// soft-delete of the record, then quota release and cache invalidation.
type ExpiryWorker struct {
	*Worker

	meta  *metadata.Store
	blobs *blob.Backend
	cache volatile.Store
	quota *quota.Accountant
	batch int
	now   func() time.Time
}

// NewExpiryWorker creates the expiry sweeper.
func NewExpiryWorker(meta *metadata.Store, blobs *blob.Backend, cache volatile.Store, accountant *quota.Accountant, sink event.Sink, cfg config.LifecycleConfig) *ExpiryWorker {
	w := &ExpiryWorker{
		meta:  meta,
		blobs: blobs,
		cache: cache,
		quota: accountant,
		batch: cfg.BatchSize,
		now:   time.Now,
	}
	w.Worker = newWorker("expiry", cfg.Interval, sink, w.RunOnce)
	return w
}

// RunOnce sweeps one batch of expired files, oldest expiry first.
func (w *ExpiryWorker) RunOnce(ctx context.Context) Summary {
	var summary Summary
	now := w.now()

	files, err := w.meta.ListExpired(ctx, now, w.batch)
	if err != nil {
		w.itemFailed(&summary, "list_expired", "", err)
		return summary
	}

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if err := w.blobs.Delete(ctx, f.StorageKey, f.StorageTier); err != nil {
			w.itemFailed(&summary, "delete_blob", f.ID, err)
			continue
		}
		if err := w.meta.SoftDeleteFile(ctx, f.ID, now); err != nil {
			w.itemFailed(&summary, "soft_delete", f.ID, err)
			continue
		}
		if err := w.quota.RemoveFile(ctx, f.UserID, f.Size); err != nil {
			w.itemFailed(&summary, "release_quota", f.ID, err)
			// The file is gone; the quota sync repairs the drift
		}
		_ = w.cache.Delete(ctx, volatile.PrefixFile+f.ID)

		summary.Processed++
		w.sink.Emit(event.FileExpired, "file_id", f.ID, "user_id", f.UserID, "size", f.Size)
	}
	return summary
}
