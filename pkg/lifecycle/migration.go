package lifecycle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// promotionLookback bounds how recent a download must be for a cold file to
// earn promotion back to hot.
const promotionLookback = 7 * 24 * time.Hour

// MigrationWorker moves blobs between tiers: idle free-tier files demote to
// cold, frequently downloaded cold files promote back to hot. The two passes
// run concurrently; candidate sets cannot overlap because they select
// opposite tiers.
type MigrationWorker struct {
	*Worker

	meta  *metadata.Store
	blobs *blob.Backend
	cache volatile.Store
	cfg   config.LifecycleConfig
	now   func() time.Time
}

// NewMigrationWorker creates the tier migrator.
func NewMigrationWorker(meta *metadata.Store, blobs *blob.Backend, cache volatile.Store, sink event.Sink, cfg config.LifecycleConfig) *MigrationWorker {
	w := &MigrationWorker{
		meta:  meta,
		blobs: blobs,
		cache: cache,
		cfg:   cfg,
		now:   time.Now,
	}
	w.Worker = newWorker("migration", cfg.Interval, sink, w.RunOnce)
	return w
}

// RunOnce runs the demotion and promotion passes over one batch each.
func (w *MigrationWorker) RunOnce(ctx context.Context) Summary {
	var (
		mu      sync.Mutex
		summary Summary
	)
	now := w.now()

	merge := func(s Summary) {
		mu.Lock()
		summary.Processed += s.Processed
		summary.Failed += s.Failed
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cutoff := now.Add(-time.Duration(w.cfg.HotToColdDays) * 24 * time.Hour)
		files, err := w.meta.ListColdCandidates(gctx, cutoff, w.cfg.BatchSize)
		if err != nil {
			var s Summary
			w.itemFailed(&s, "list_cold_candidates", "", err)
			merge(s)
			return nil
		}
		merge(w.migrateAll(gctx, files, model.TierHot, model.TierCold))
		return nil
	})
	g.Go(func() error {
		since := now.Add(-promotionLookback)
		files, err := w.meta.ListHotCandidates(gctx, w.cfg.ColdToHotDownloads, since, w.cfg.BatchSize)
		if err != nil {
			var s Summary
			w.itemFailed(&s, "list_hot_candidates", "", err)
			merge(s)
			return nil
		}
		merge(w.migrateAll(gctx, files, model.TierCold, model.TierHot))
		return nil
	})
	_ = g.Wait()

	return summary
}

func (w *MigrationWorker) migrateAll(ctx context.Context, files []*model.File, source, target model.StorageTier) Summary {
	var summary Summary
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if err := w.migrateOne(ctx, f, source, target); err != nil {
			w.itemFailed(&summary, "migrate", f.ID, err)
			w.sink.Emit(event.MigrationFailed,
				"file_id", f.ID, "target_tier", string(target), "error", err.Error())
			continue
		}
		summary.Processed++
		w.sink.Emit(event.TierMigrated,
			"file_id", f.ID, "target_tier", string(target), "size", f.Size)
	}
	return summary
}

// migrateOne moves a single blob and records the outcome. Failures leave the
// record marked failed and the blob in its source tier.
func (w *MigrationWorker) migrateOne(ctx context.Context, f *model.File, source, target model.StorageTier) error {
	if err := w.meta.SetMigrationStatus(ctx, f.ID, model.MigrationInProgress); err != nil {
		return err
	}
	if err := w.blobs.Migrate(ctx, f.StorageKey, source, target); err != nil {
		_ = w.meta.SetMigrationStatus(ctx, f.ID, model.MigrationFailed)
		return err
	}
	if err := w.meta.CompleteMigration(ctx, f.ID, target, w.now()); err != nil {
		return err
	}
	_ = w.cache.Delete(ctx, volatile.PrefixFile+f.ID)
	return nil
}
