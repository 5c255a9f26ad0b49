// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reconcile writes the links found by the matching engine back to the
// store. Neighbours are written before the record that linked them, and a
// record is only marked processed once all of its neighbours are saved, so an
// interrupted or failed write is picked up again by the next run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/OnlyFart/ElsParsers/internal/matching"
	"github.com/OnlyFart/ElsParsers/internal/metrics"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// ErrWriteFailed marks a record whose write did not succeed after retries.
var ErrWriteFailed = errors.New("store write failed")

// Reconciler batches matching results into store updates. It implements
// matching.Sink.
type Reconciler struct {
	store  store.Store
	cfg    types.ReconcilerConfig
	logger *zap.Logger

	// progress state, owned by the Drain goroutine
	done  int
	total int
	stats matching.SinkStats
}

var _ matching.Sink = (*Reconciler)(nil)

// New returns a Reconciler writing to st.
func New(st store.Store, cfg types.ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Reconciler{store: st, cfg: cfg, logger: logger.Named("reconcile")}
}

// Drain consumes results until the channel closes, flushing every BatchSize
// results and once more at the end.
func (r *Reconciler) Drain(ctx context.Context, results <-chan matching.Result, total int) matching.SinkStats {
	r.done, r.total, r.stats = 0, total, matching.SinkStats{}

	batch := make([]matching.Result, 0, r.cfg.BatchSize)
	for res := range results {
		batch = append(batch, res)
		if len(batch) == r.cfg.BatchSize {
			r.flush(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		r.flush(ctx, batch)
	}
	return r.stats
}

func (r *Reconciler) flush(ctx context.Context, batch []matching.Result) {
	start := time.Now()
	defer func() { metrics.FlushDuration.Observe(time.Since(start).Seconds()) }()

	// Neighbour snapshots are taken now, so a neighbour linked by several
	// records in the batch is written once with all of its links.
	var neighbourUpdates []store.Update
	queued := make(map[string]struct{})
	for _, res := range batch {
		for _, n := range res.Neighbours {
			if _, ok := queued[n.ID]; ok {
				continue
			}
			queued[n.ID] = struct{}{}
			neighbourUpdates = append(neighbourUpdates, store.LinksUpdate(n.ID, n.Links.Snapshot()))
		}
	}
	neighbourErrs := r.write(ctx, neighbourUpdates)
	r.count("neighbour", len(neighbourUpdates), neighbourErrs)

	recordUpdates := make([]store.Update, len(batch))
	for i, res := range batch {
		processed := true
		for _, n := range res.Neighbours {
			if err, failed := neighbourErrs[n.ID]; failed {
				processed = false
				r.logger.Warn("neighbour write failed, record stays unprocessed",
					zap.String("record_id", res.Record.ID),
					zap.String("neighbour_id", n.ID),
					zap.Error(err))
			}
		}
		recordUpdates[i] = store.RecordUpdate(res.Record, res.Record.Links.Snapshot(), processed)
	}
	recordErrs := r.write(ctx, recordUpdates)
	r.count("record", len(recordUpdates), recordErrs)

	elapsed := time.Since(start)
	for i, res := range batch {
		r.done++
		rec := res.Record
		if err, failed := recordErrs[rec.ID]; failed {
			r.stats.Failed++
			r.logger.Error("record write failed",
				zap.String("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		if !recordUpdates[i].Processed {
			r.stats.Failed++
			continue
		}
		r.stats.Persisted++
		r.logger.Info("saved",
			zap.String("progress", fmt.Sprintf("%d/%d", r.done, r.total)),
			zap.Duration("elapsed", elapsed),
			zap.Int("links", rec.LinkCount()),
			zap.String("record_id", rec.ID),
			zap.String("source", rec.SourceName),
			zap.String("title", rec.Title))
	}
}

func (r *Reconciler) count(kind string, n int, errs map[string]error) {
	metrics.StoreWrites.WithLabelValues(kind, "failed").Add(float64(len(errs)))
	metrics.StoreWrites.WithLabelValues(kind, "ok").Add(float64(n - len(errs)))
}

// write applies updates, retrying the ones that failed, and returns the final
// error for each id that never succeeded. Missing records are not retried.
func (r *Reconciler) write(ctx context.Context, updates []store.Update) map[string]error {
	failures := make(map[string]error)
	if len(updates) == 0 {
		return failures
	}

	pending := updates
	lastErr := make(map[string]error)
	err := retry.Do(
		func() error {
			results, err := r.store.UpdateMany(ctx, pending)
			if err != nil {
				return err
			}
			var again []store.Update
			for i, res := range results {
				switch {
				case res.Err == nil:
					delete(lastErr, res.ID)
				case errors.Is(res.Err, store.ErrNotFound):
					delete(lastErr, res.ID)
					failures[res.ID] = fmt.Errorf("%w: %s: %w", ErrWriteFailed, res.ID, res.Err)
				default:
					lastErr[res.ID] = res.Err
					again = append(again, pending[i])
				}
			}
			pending = again
			if len(pending) > 0 {
				return fmt.Errorf("%d of %d updates failed", len(pending), len(results))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.RetryAttempts),
		retry.Delay(r.cfg.RetryDelay),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrying store write", zap.Uint("attempt", n+1), zap.Int("pending", len(pending)), zap.Error(err))
		}),
	)
	if err != nil {
		for _, u := range pending {
			cause := lastErr[u.ID]
			if cause == nil {
				cause = err
			}
			failures[u.ID] = fmt.Errorf("%w: %s: %w", ErrWriteFailed, u.ID, cause)
		}
	}
	return failures
}
