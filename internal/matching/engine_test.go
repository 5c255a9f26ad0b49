// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package matching_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyFart/ElsParsers/internal/events"
	"github.com/OnlyFart/ElsParsers/internal/matching"
	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/internal/reconcile"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// --- test helpers ---

func comparerConfig(parallelism int) types.ComparerConfig {
	cfg := types.DefaultConfig().Comparer
	cfg.MaxParallelism = parallelism
	return cfg
}

func newEngine(t *testing.T, st store.Store, cfg types.ComparerConfig, opts ...matching.Option) *matching.Engine {
	t.Helper()
	rec := reconcile.New(st, types.ReconcilerConfig{
		BatchSize:     2,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, nil)
	return matching.New(st, normalize.Default(), cfg, rec, opts...)
}

func insert(t *testing.T, st *store.Memory, recs ...*types.CatalogRecord) {
	t.Helper()
	_, err := st.Insert(context.Background(), recs)
	require.NoError(t, err)
}

// catalog returns two descriptions of one book and an unrelated record.
func catalog() (a, b, c *types.CatalogRecord) {
	a = &types.CatalogRecord{SourceName: "lan", ExternalID: "1", Authors: "Петров А. Б.", Title: "Методика обучения", Publisher: "Просвещение"}
	b = &types.CatalogRecord{SourceName: "znanium", ExternalID: "7", Authors: "Петров А.Б.", Title: "Методика обучения. Практикум"}
	c = &types.CatalogRecord{SourceName: "lan", ExternalID: "2", Authors: "Иванов В. В.", Title: "Органическая химия"}
	return a, b, c
}

func linkIDs(r *types.CatalogRecord) []string {
	var out []string
	for _, links := range r.SimilarityLinks {
		for _, l := range links {
			out = append(out, l.TargetID)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LinkEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.LinkEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// cancelAfterRead cancels the run context as soon as the records are loaded.
type cancelAfterRead struct {
	*store.Memory
	cancel context.CancelFunc
}

func (s cancelAfterRead) Read(ctx context.Context, f store.Filter, p store.Projection) ([]*types.CatalogRecord, error) {
	recs, err := s.Memory.Read(ctx, f, p)
	s.cancel()
	return recs, err
}

// --- tests ---

func TestRun_LinksAreSymmetric(t *testing.T) {
	st := store.NewMemory()
	a, b, c := catalog()
	insert(t, st, a, b, c)

	pub := &recordingPublisher{}
	e := newEngine(t, st, comparerConfig(1), matching.WithPublisher(pub))
	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, matching.StateDone, e.State())
	assert.Equal(t, 3, summary.Loaded)
	assert.Equal(t, 3, summary.Eligible)
	assert.Equal(t, 3, summary.Compared)
	assert.Equal(t, int64(2), summary.Links)
	assert.Equal(t, 3, summary.Persisted)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, summary.Loaded, summary.Total())

	gotA, gotB, gotC := st.Get(a.ID), st.Get(b.ID), st.Get(c.ID)
	want := map[string][]types.SimilarityLink{"znanium": {{TargetID: b.ID, TargetExternalID: "7", Coefficient: 0}}}
	if diff := cmp.Diff(want, gotA.SimilarityLinks); diff != "" {
		t.Errorf("links of a (-want +got):\n%s", diff)
	}
	want = map[string][]types.SimilarityLink{"lan": {{TargetID: a.ID, TargetExternalID: "1", Coefficient: 0}}}
	if diff := cmp.Diff(want, gotB.SimilarityLinks); diff != "" {
		t.Errorf("links of b (-want +got):\n%s", diff)
	}
	assert.Empty(t, gotC.SimilarityLinks)
	for _, r := range []*types.CatalogRecord{gotA, gotB, gotC} {
		assert.True(t, r.Processed, "record %s", r.ExternalID)
	}

	require.Len(t, pub.events, 2)
	assert.Equal(t, a.ID, pub.events[0].SourceID)
	assert.Equal(t, b.ID, pub.events[1].SourceID)
}

func TestRun_NeverLinksRecordToItself(t *testing.T) {
	st := store.NewMemory()
	a, _, _ := catalog()
	insert(t, st, a)

	summary, err := newEngine(t, st, comparerConfig(1)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Comparisons)
	assert.Empty(t, st.Get(a.ID).SimilarityLinks)
	assert.True(t, st.Get(a.ID).Processed)
}

func TestRun_SecondRunSkipsProcessed(t *testing.T) {
	st := store.NewMemory()
	a, b, c := catalog()
	insert(t, st, a, b, c)
	e := newEngine(t, st, comparerConfig(1))

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Skipped)
	assert.Zero(t, summary.Compared)
	assert.Zero(t, summary.Links)
	assert.Len(t, linkIDs(st.Get(a.ID)), 1)
}

func TestRun_NewRecordLinksToProcessedOnes(t *testing.T) {
	st := store.NewMemory()
	a, b, c := catalog()
	insert(t, st, a, b, c)
	e := newEngine(t, st, comparerConfig(1))
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	d := &types.CatalogRecord{SourceName: "ozon", ExternalID: "9", Authors: "А. Б. Петров", Title: "Методика обучения"}
	insert(t, st, d)
	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Compared)
	assert.Equal(t, int64(4), summary.Links)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, linkIDs(st.Get(d.ID)))
	assert.ElementsMatch(t, []string{b.ID, d.ID}, linkIDs(st.Get(a.ID)))
	assert.ElementsMatch(t, []string{a.ID, d.ID}, linkIDs(st.Get(b.ID)))
}

func TestRun_ConcurrentLinkingLosesNothing(t *testing.T) {
	const n = 40
	st := store.NewMemory()
	recs := make([]*types.CatalogRecord, n)
	for i := range recs {
		recs[i] = &types.CatalogRecord{
			SourceName: fmt.Sprintf("src%02d", i),
			ExternalID: "1",
			Authors:    "Петров А. Б.",
			Title:      "Методика обучения",
		}
	}
	insert(t, st, recs...)

	summary, err := newEngine(t, st, comparerConfig(8)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(n*(n-1)), summary.Links)
	assert.Equal(t, n, summary.Persisted)
	for _, r := range recs {
		got := st.Get(r.ID)
		assert.Len(t, linkIDs(got), n-1, "record %s", r.SourceName)
		assert.NotContains(t, linkIDs(got), r.ID)
		assert.True(t, got.Processed)
	}
}

func TestRun_InjectedWriteFailureIsRetriedNextRun(t *testing.T) {
	st := store.NewMemory()
	a, b, c := catalog()
	insert(t, st, a, b, c)
	// Exhausts every attempt of the neighbour write that links b back to a.
	st.FailNext(b.ID, 3)
	e := newEngine(t, st, comparerConfig(1))

	first, err := e.Run(context.Background())
	require.NoError(t, err, "write failures are never fatal")
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 2, first.Persisted)
	assert.False(t, st.Get(a.ID).Processed, "a stays pending while its neighbour write failed")
	assert.True(t, st.Get(b.ID).Processed)

	second, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Compared)
	assert.Zero(t, second.Failed)

	gotA, gotB := st.Get(a.ID), st.Get(b.ID)
	assert.True(t, gotA.Processed)
	assert.Equal(t, []string{b.ID}, linkIDs(gotA))
	assert.Equal(t, []string{a.ID}, linkIDs(gotB))
}

func TestRun_LoadFailureIsFatal(t *testing.T) {
	st := store.NewMemory()
	down := errors.New("store unreachable")
	st.FailRead(down)

	e := newEngine(t, st, comparerConfig(1))
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, matching.ErrLoad)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, matching.StateFailed, e.State())
	assert.Zero(t, st.Updates())
}

func TestRun_CancellationStopsFeeding(t *testing.T) {
	mem := store.NewMemory()
	a, b, c := catalog()
	insert(t, mem, a, b, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := cancelAfterRead{Memory: mem, cancel: cancel}

	e := newEngine(t, st, comparerConfig(2))
	summary, err := e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, matching.StateFailed, e.State())
	assert.Zero(t, summary.Persisted)
	assert.Equal(t, 3, summary.Pending, "no record reached a worker")
	assert.Equal(t, summary.Loaded, summary.Total())
	assert.False(t, mem.Get(a.ID).Processed)
}

func TestRun_EnrichesFromBibliography(t *testing.T) {
	st := store.NewMemory()
	a, _, _ := catalog()
	bibOnly := &types.CatalogRecord{
		SourceName:      "rsl",
		ExternalID:      "55",
		RawBibliography: "Петров А.Б. Методика обучения. М.: Просвещение, 2019.",
	}
	insert(t, st, a, bibOnly)

	summary, err := newEngine(t, st, comparerConfig(1)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enriched)
	assert.Equal(t, 2, summary.Eligible)

	got := st.Get(bibOnly.ID)
	assert.Equal(t, "Петров", got.Authors)
	assert.Equal(t, "Методика обучения", got.Title)
	assert.Equal(t, "просвещение", got.Publisher)
	assert.True(t, got.Processed)
	require.Len(t, got.SimilarityLinks["lan"], 1)
	assert.InDelta(t, 0.125, got.SimilarityLinks["lan"][0].Coefficient, 1e-9)
}

func TestRun_EnrichmentDisabled(t *testing.T) {
	st := store.NewMemory()
	a, _, _ := catalog()
	bibOnly := &types.CatalogRecord{SourceName: "rsl", ExternalID: "55", RawBibliography: "Петров А.Б. Методика обучения."}
	insert(t, st, a, bibOnly)

	cfg := comparerConfig(1)
	cfg.EnrichFromBibliography = false
	summary, err := newEngine(t, st, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Loaded)
	assert.Empty(t, st.Get(bibOnly.ID).Title)
}

func TestMatchCitations(t *testing.T) {
	st := store.NewMemory()
	a, b, c := catalog()
	insert(t, st, a, b, c)
	e := newEngine(t, st, comparerConfig(2))

	got, err := e.MatchCitations(context.Background(), []string{
		"Петров А.Б. Методика обучения. М.: Просвещение, 2019.",
		"Сидоров Г.Г. Теория всего",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Петров", got[0].Parsed.Authors)
	require.Len(t, got[0].Matches, 2)
	var matched []string
	for _, m := range got[0].Matches {
		matched = append(matched, m.Record.ID)
		assert.InDelta(t, 0.125, m.Coefficient, 1e-9)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, matched)
	assert.Empty(t, got[1].Matches)
	assert.Zero(t, st.Updates(), "citation matching never writes")

	var buf bytes.Buffer
	require.NoError(t, matching.WriteCitationReport(&buf, got))
	assert.Contains(t, buf.String(), "Сидоров Г.Г. Теория всего\n")
	assert.Contains(t, buf.String(), "no matches")
	assert.Contains(t, buf.String(), "lan/1")
}
