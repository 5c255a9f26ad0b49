// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package matching runs one entity-resolution pass over the catalog: it loads
// eligible records, indexes their title tokens, compares every unprocessed
// record with its candidates on a bounded worker pool and hands the links it
// discovers to a Sink for persistence.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OnlyFart/ElsParsers/internal/bibparse"
	"github.com/OnlyFart/ElsParsers/internal/compare"
	"github.com/OnlyFart/ElsParsers/internal/events"
	"github.com/OnlyFart/ElsParsers/internal/metrics"
	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// ErrLoad wraps a failure to read the initial record set. It is the only
// error that aborts a run before comparison starts.
var ErrLoad = errors.New("loading records")

// State is a run phase.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateIndexBuilt  State = "index_built"
	StateComparing   State = "comparing"
	StateReconciling State = "reconciling"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var allStates = []string{
	string(StateIdle), string(StateLoading), string(StateIndexBuilt), string(StateComparing),
	string(StateReconciling), string(StateDone), string(StateFailed),
}

// Result is the outcome of comparing one record: the record itself and the
// neighbours whose LinkSet gained a link back to it.
type Result struct {
	Record     *types.CatalogRecord
	Neighbours []*types.CatalogRecord
}

// SinkStats reports what a Sink persisted.
type SinkStats struct {
	Persisted int
	Failed    int
}

// Sink consumes results until the channel is closed. total is the number of
// results the engine will send.
type Sink interface {
	Drain(ctx context.Context, results <-chan Result, total int) SinkStats
}

// RunSummary holds counts from one run.
type RunSummary struct {
	RunID       string
	Loaded      int
	Enriched    int
	Ineligible  int
	Eligible    int
	Skipped     int
	Compared    int
	Comparisons int64
	Links       int64
	Persisted   int
	Failed      int
	Pending     int
	Elapsed     time.Duration
}

// Total returns the number of loaded records accounted for. Pending counts
// the records a cancelled run never handed to a worker.
func (s RunSummary) Total() int {
	return s.Ineligible + s.Skipped + s.Pending + s.Persisted + s.Failed
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPublisher sets the link event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithComparator replaces the comparator built from the config.
func WithComparator(c *compare.Comparator) Option {
	return func(e *Engine) {
		if c != nil {
			e.comparator = c
		}
	}
}

// WithQueueSize sets the capacity of the results channel.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Engine runs matching passes. An Engine may run more than once, but not
// concurrently with itself.
type Engine struct {
	store      store.Store
	norm       *normalize.Normalizer
	builder    *compare.Builder
	comparator *compare.Comparator
	cfg        types.ComparerConfig
	sink       Sink
	publisher  events.Publisher
	logger     *zap.Logger
	queueSize  int

	mu    sync.Mutex
	state State
}

// New returns an Engine reading from st and persisting through sink.
func New(st store.Store, n *normalize.Normalizer, cfg types.ComparerConfig, sink Sink, opts ...Option) *Engine {
	if cfg.MaxParallelism < 1 {
		cfg.MaxParallelism = 1
	}
	e := &Engine{
		store:      st,
		norm:       n,
		builder:    compare.NewBuilder(n),
		comparator: compare.NewComparator(cfg),
		cfg:        cfg,
		sink:       sink,
		publisher:  events.Nop{},
		logger:     zap.NewNop(),
		queueSize:  100,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("matching")
	return e
}

// State returns the current run phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State, runID string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	metrics.SetState(string(s), allStates...)
	e.logger.Info("state", zap.String("run_id", runID), zap.String("state", string(s)))
}

// Run performs one pass. On cancellation it stops feeding records, lets
// in-flight comparisons finish, waits for the sink to drain and returns the
// context error with the partial summary.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: uuid.NewString()}
	log := e.logger.With(zap.String("run_id", summary.RunID))

	e.setState(StateLoading, summary.RunID)
	records, err := e.store.Read(ctx,
		store.Filter{Eligible: true, OrBibliography: e.cfg.EnrichFromBibliography},
		store.Projection{WithBibliography: e.cfg.EnrichFromBibliography, WithLinks: true})
	if err != nil {
		e.setState(StateFailed, summary.RunID)
		return summary, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	summary.Loaded = len(records)
	metrics.RecordsLoaded.Add(float64(len(records)))
	log.Info("loaded records", zap.Int("count", len(records)))

	entries := e.prepare(records, &summary)

	ix := BuildIndex(entries)
	e.setState(StateIndexBuilt, summary.RunID)
	log.Info("index built", zap.Int("tokens", ix.Tokens()), zap.Int("records", ix.Size()))

	var pending []*Entry
	for _, en := range entries {
		if en.Record.Processed {
			summary.Skipped++
			continue
		}
		pending = append(pending, en)
	}
	metrics.RecordsSkipped.WithLabelValues("processed").Add(float64(summary.Skipped))

	e.setState(StateComparing, summary.RunID)
	results := make(chan Result, e.queueSize)
	sinkDone := make(chan SinkStats, 1)
	go func() {
		sinkDone <- e.sink.Drain(context.WithoutCancel(ctx), results, len(pending))
	}()

	var comparisons, links atomic.Int64
	var compared atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxParallelism)
	fed := 0
	for _, en := range pending {
		if ctx.Err() != nil {
			break
		}
		fed++
		g.Go(func() error {
			res := e.compareEntry(ctx, summary.RunID, ix, en, &comparisons, &links)
			compared.Add(1)
			results <- res
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	e.setState(StateReconciling, summary.RunID)
	stats := <-sinkDone

	summary.Compared = int(compared.Load())
	summary.Comparisons = comparisons.Load()
	summary.Links = links.Load()
	summary.Persisted = stats.Persisted
	summary.Failed = stats.Failed
	summary.Pending = len(pending) - fed
	summary.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil {
		e.setState(StateFailed, summary.RunID)
		log.Warn("run cancelled", zap.Int("compared", summary.Compared), zap.Int("pending", summary.Pending))
		return summary, fmt.Errorf("run %s cancelled: %w", summary.RunID, err)
	}

	e.setState(StateDone, summary.RunID)
	log.Info("run finished",
		zap.Int("compared", summary.Compared),
		zap.Int64("links", summary.Links),
		zap.Int("persisted", summary.Persisted),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// prepare enriches records from their bibliography when enabled, drops the
// ones still ineligible and builds keys on the worker pool. Key building
// ignores cancellation.
func (e *Engine) prepare(records []*types.CatalogRecord, summary *RunSummary) []*Entry {
	eligible := make([]*types.CatalogRecord, 0, len(records))
	var incomplete []*types.CatalogRecord
	for _, r := range records {
		if r.Eligible() {
			eligible = append(eligible, r)
		} else {
			incomplete = append(incomplete, r)
		}
	}

	if e.cfg.EnrichFromBibliography && len(incomplete) > 0 {
		parser := bibparse.New(e.norm, bibparse.BuildVocabulary(eligible, e.norm))
		for _, r := range incomplete {
			if parser.Fill(r) {
				summary.Enriched++
				eligible = append(eligible, r)
			} else {
				summary.Ineligible++
			}
		}
		e.logger.Info("enriched from bibliography",
			zap.Int("enriched", summary.Enriched), zap.Int("ineligible", summary.Ineligible))
	} else {
		summary.Ineligible = len(incomplete)
	}
	metrics.RecordsSkipped.WithLabelValues("ineligible").Add(float64(summary.Ineligible))
	summary.Eligible = len(eligible)

	entries := make([]*Entry, len(eligible))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxParallelism)
	for i, r := range eligible {
		g.Go(func() error {
			r.Prepare()
			entries[i] = &Entry{Record: r, Key: e.builder.Build(r)}
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

// compareEntry compares en with every candidate and links matches both ways.
func (e *Engine) compareEntry(ctx context.Context, runID string, ix *Index, en *Entry, comparisons, links *atomic.Int64) Result {
	start := time.Now()
	res := Result{Record: en.Record}
	var evs []events.LinkEvent

	for _, c := range ix.Candidates(en) {
		cmp := e.comparator.Compare(&en.Key, &c.Key)
		comparisons.Add(1)
		if !cmp.Success {
			metrics.Comparisons.WithLabelValues("no_match").Inc()
			continue
		}
		metrics.Comparisons.WithLabelValues("match").Inc()

		if en.Record.Links.Add(c.Record.SourceName, c.Record.Link(cmp.Coefficient)) {
			links.Add(1)
			evs = append(evs, events.NewLinkEvent(runID, en.Record, c.Record, cmp.Coefficient))
		}
		if c.Record.Links.Add(en.Record.SourceName, en.Record.Link(cmp.Coefficient)) {
			links.Add(1)
			res.Neighbours = append(res.Neighbours, c.Record)
			evs = append(evs, events.NewLinkEvent(runID, c.Record, en.Record, cmp.Coefficient))
		}
	}

	metrics.RecordDuration.Observe(time.Since(start).Seconds())
	if len(evs) > 0 {
		metrics.LinksCreated.Add(float64(len(evs)))
		if err := e.publisher.Publish(ctx, evs...); err != nil {
			e.logger.Warn("publishing link events",
				zap.String("run_id", runID),
				zap.String("record_id", en.Record.ID),
				zap.Error(err))
		}
	}
	return res
}
