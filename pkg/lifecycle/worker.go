// Package lifecycle runs the background maintenance workers: file expiry,
// hot/cold tier migration, and session/orphan cleanup.
//
// Workers tick at a configured interval and process in bounded batches.
// Per-item failures are counted and logged; they never stop the batch or
// crash the process. Each tick runs under a deadline equal to the interval,
// so an overrun simply defers remaining items to the next tick.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/event"
)

// Summary counts one tick's work.
type Summary struct {
	Processed int
	Failed    int
}

// Worker drives a periodic task. Concrete workers embed it and supply the
// per-tick body through newWorker.
type Worker struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) Summary
	sink     event.Sink

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newWorker(name string, interval time.Duration, sink event.Sink, run func(ctx context.Context) Summary) *Worker {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Worker{
		name:     name,
		interval: interval,
		sink:     sink,
		run:      run,
	}
}

// Name returns the worker's identifier, used in logs and events.
func (w *Worker) Name() string {
	return w.name
}

// Start launches the periodic loop. Starting a running worker is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	logger.Info("worker started", logger.KeyWorker, w.name, "interval", w.interval)

	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.tick()
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick to finish. Stopping a
// stopped worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	<-w.doneCh
	logger.Info("worker stopped", logger.KeyWorker, w.name)
}

// tick runs one pass under the interval deadline and reports the summary.
func (w *Worker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	summary := w.run(ctx)
	if summary.Processed > 0 || summary.Failed > 0 {
		logger.Info("worker sweep done",
			logger.KeyWorker, w.name,
			logger.KeyProcessed, summary.Processed,
			logger.KeyFailed, summary.Failed,
		)
		w.sink.Emit(event.WorkerSweepDone,
			"worker", w.name,
			"processed", summary.Processed,
			"failed", summary.Failed,
		)
	}
}

// itemFailed records one per-item failure and keeps the batch going.
func (w *Worker) itemFailed(summary *Summary, op, id string, err error) {
	summary.Failed++
	logger.Warn("worker item failed",
		logger.KeyWorker, w.name,
		"op", op,
		"id", id,
		logger.KeyError, err,
	)
	w.sink.Emit(event.WorkerItemFailed, "worker", w.name, "op", op, "id", id, "error", err.Error())
}
