// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OnlyFart/ElsParsers/internal/events"
	"github.com/OnlyFart/ElsParsers/internal/matching"
	"github.com/OnlyFart/ElsParsers/internal/metrics"
	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/internal/reconcile"
	"github.com/OnlyFart/ElsParsers/internal/runlock"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare unprocessed records and store similarity links",
	Long: `Compare loads every record with a title and authors (reconstructing them
from the bibliography where possible), indexes title tokens, and compares
each unprocessed record with the records sharing a token. Matches are linked
on both records and written back to the store; a record is marked processed
once its links and its neighbours' links are saved.

Interrupting a run stops new comparisons and saves what was already found.
Records that were not saved stay unprocessed and are compared again on the
next run.`,
	RunE: runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.Int("max-parallelism", 0, "number of records compared concurrently (default from config: 1)")
	f.Float64("levenshtein-border", 0, "maximum normalized edit distance for authors and titles (default 0.3)")
	f.Float64("intersection-border", 0, "maximum share of unshared title tokens (default 0.4)")
	f.Int("batch-size", 0, "records written per store round trip (default 100)")
	f.Bool("no-enrich", false, "do not reconstruct authors and titles from bibliographies")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9108)")

	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyCompareFlags(cmd, &cfg); err != nil {
		return err
	}
	ctx := cmd.Context()

	locker := runlock.New(cfg.Lock, logger)
	defer locker.Close()
	lock, err := locker.Acquire(ctx, cfg.Store.Collection)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("releasing run lock", zap.Error(err))
		}
	}()

	if cfg.MetricsAddr != "" {
		mctx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := metrics.Serve(mctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := ensureIndex(ctx, st, os.Stdout); err != nil {
		return err
	}

	norm, err := normalize.New(cfg.Normalizer)
	if err != nil {
		return err
	}
	publisher := events.New(cfg.Events, logger)
	defer publisher.Close()

	sink := reconcile.New(st, cfg.Reconciler, logger)
	engine := matching.New(st, norm, cfg.Comparer, sink,
		matching.WithLogger(logger),
		matching.WithPublisher(publisher),
		matching.WithQueueSize(cfg.Reconciler.BatchSize*2))

	summary, runErr := engine.Run(ctx)
	printRunSummary(os.Stdout, summary)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stdout, "Run interrupted; unsaved records will be compared on the next run.")
		}
		return runErr
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d record(s) could not be saved; rerun compare to retry", summary.Failed)
	}
	return nil
}

func applyCompareFlags(cmd *cobra.Command, cfg *types.Config) error {
	f := cmd.Flags()
	if f.Changed("max-parallelism") {
		cfg.Comparer.MaxParallelism, _ = f.GetInt("max-parallelism")
	}
	if f.Changed("levenshtein-border") {
		cfg.Comparer.LevenshteinBorder, _ = f.GetFloat64("levenshtein-border")
	}
	if f.Changed("intersection-border") {
		cfg.Comparer.IntersectionBorder, _ = f.GetFloat64("intersection-border")
	}
	if f.Changed("batch-size") {
		cfg.Reconciler.BatchSize, _ = f.GetInt("batch-size")
	}
	if noEnrich, _ := f.GetBool("no-enrich"); noEnrich {
		cfg.Comparer.EnrichFromBibliography = false
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	return cfg.Validate()
}

func printRunSummary(w io.Writer, s matching.RunSummary) {
	fmt.Fprintf(w, "\nRun %s finished in %s\n", s.RunID, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Loaded:      %d\n", s.Loaded)
	fmt.Fprintf(w, "  Enriched:    %d\n", s.Enriched)
	fmt.Fprintf(w, "  Ineligible:  %d\n", s.Ineligible)
	fmt.Fprintf(w, "  Skipped:     %d (already processed)\n", s.Skipped)
	fmt.Fprintf(w, "  Compared:    %d (%d comparisons)\n", s.Compared, s.Comparisons)
	fmt.Fprintf(w, "  Links:       %d\n", s.Links)
	fmt.Fprintf(w, "  Persisted:   %d\n", s.Persisted)
	fmt.Fprintf(w, "  Failed:      %d\n", s.Failed)
	if s.Pending > 0 {
		fmt.Fprintf(w, "  Pending:     %d (not compared before interruption)\n", s.Pending)
	}
}
