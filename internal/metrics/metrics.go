// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics provides Prometheus metrics for els-comparer runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "els_comparer"

var (
	// RecordsLoaded counts records read from the store.
	RecordsLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "records_loaded_total",
			Help:      "Total number of records loaded from the store",
		},
	)

	// RecordsSkipped counts records left out of comparison, by reason.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "records_skipped_total",
			Help:      "Total number of records skipped by reason",
		},
		[]string{"reason"},
	)

	// Comparisons counts pairwise comparisons by result.
	Comparisons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "comparisons_total",
			Help:      "Total number of pairwise comparisons by result",
		},
		[]string{"result"},
	)

	// LinksCreated counts directed links added to a LinkSet.
	LinksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "links_created_total",
			Help:      "Total number of similarity links created",
		},
	)

	// RecordDuration tracks the time spent comparing one record against its candidates.
	RecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "record_duration_seconds",
			Help:      "Duration of comparing one record against its candidates",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// EngineState is 1 for the engine's current state and 0 for the others.
	EngineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "state",
			Help:      "Current matching engine state",
		},
		[]string{"state"},
	)

	// StoreWrites counts store writes by kind (neighbour, record) and outcome.
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "store_writes_total",
			Help:      "Total number of record writes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// FlushDuration tracks reconciler batch flush duration.
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "flush_duration_seconds",
			Help:      "Duration of reconciler batch flushes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// SetState marks state as current among states.
func SetState(current string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
