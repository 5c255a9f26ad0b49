// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyFart/ElsParsers/internal/matching"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// --- test helpers ---

func testSetup(t *testing.T, n int) (*store.Memory, []*types.CatalogRecord) {
	t.Helper()
	st := store.NewMemory()
	recs := make([]*types.CatalogRecord, n)
	for i := range recs {
		recs[i] = &types.CatalogRecord{
			SourceName: "src",
			ExternalID: string(rune('a' + i)),
			Authors:    "Петров А.Б.",
			Title:      "Физика",
		}
	}
	_, err := st.Insert(context.Background(), recs)
	require.NoError(t, err)
	for _, r := range recs {
		r.Prepare()
	}
	return st, recs
}

func link(a, b *types.CatalogRecord) {
	a.Links.Add(b.SourceName, b.Link(0.1))
	b.Links.Add(a.SourceName, a.Link(0.1))
}

func drain(r *Reconciler, results ...matching.Result) matching.SinkStats {
	ch := make(chan matching.Result, len(results))
	for _, res := range results {
		ch <- res
	}
	close(ch)
	return r.Drain(context.Background(), ch, len(results))
}

func testConfig() types.ReconcilerConfig {
	return types.ReconcilerConfig{BatchSize: 2, RetryAttempts: 3, RetryDelay: time.Millisecond}
}

// flakyStore fails whole UpdateMany calls a fixed number of times.
type flakyStore struct {
	*store.Memory
	failures int
	calls    int
}

func (s *flakyStore) UpdateMany(ctx context.Context, u []store.Update) ([]store.UpdateResult, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection reset")
	}
	return s.Memory.UpdateMany(ctx, u)
}

// --- tests ---

func TestDrain_WritesNeighboursAndRecords(t *testing.T) {
	st, recs := testSetup(t, 3)
	a, b, c := recs[0], recs[1], recs[2]
	link(a, b)
	link(a, c)

	stats := drain(New(st, testConfig(), nil),
		matching.Result{Record: a, Neighbours: []*types.CatalogRecord{b, c}},
		matching.Result{Record: b},
		matching.Result{Record: c},
	)
	assert.Equal(t, matching.SinkStats{Persisted: 3}, stats)

	gotA := st.Get(a.ID)
	assert.True(t, gotA.Processed)
	assert.Len(t, gotA.SimilarityLinks["src"], 2)
	for _, r := range []*types.CatalogRecord{b, c} {
		got := st.Get(r.ID)
		assert.True(t, got.Processed)
		require.Len(t, got.SimilarityLinks["src"], 1)
		assert.Equal(t, a.ID, got.SimilarityLinks["src"][0].TargetID)
	}
}

func TestDrain_NeighbourWrittenOncePerBatch(t *testing.T) {
	st, recs := testSetup(t, 3)
	a, b, c := recs[0], recs[1], recs[2]
	link(a, c)
	link(b, c)

	stats := drain(New(st, testConfig(), nil),
		matching.Result{Record: a, Neighbours: []*types.CatalogRecord{c}},
		matching.Result{Record: b, Neighbours: []*types.CatalogRecord{c}},
	)
	assert.Equal(t, 2, stats.Persisted)
	// one neighbour write for c, then two record writes
	assert.Equal(t, 3, st.Updates())
	assert.Len(t, st.Get(c.ID).SimilarityLinks["src"], 2)
}

func TestDrain_NeighbourFailureLeavesRecordUnprocessed(t *testing.T) {
	st, recs := testSetup(t, 2)
	a, b := recs[0], recs[1]
	link(a, b)
	st.FailNext(b.ID, 3)

	stats := drain(New(st, testConfig(), nil),
		matching.Result{Record: a, Neighbours: []*types.CatalogRecord{b}},
	)
	assert.Equal(t, matching.SinkStats{Failed: 1}, stats)

	gotA := st.Get(a.ID)
	assert.False(t, gotA.Processed)
	assert.Len(t, gotA.SimilarityLinks["src"], 1, "links are saved even when processed stays false")
	assert.Empty(t, st.Get(b.ID).SimilarityLinks)
}

func TestDrain_RetriesTransientRecordFailures(t *testing.T) {
	st, recs := testSetup(t, 1)
	st.FailNext(recs[0].ID, 2)

	stats := drain(New(st, testConfig(), nil), matching.Result{Record: recs[0]})
	assert.Equal(t, matching.SinkStats{Persisted: 1}, stats)
	assert.True(t, st.Get(recs[0].ID).Processed)
	assert.Equal(t, 3, st.Updates())
}

func TestDrain_RetriesWholeBatchErrors(t *testing.T) {
	mem, recs := testSetup(t, 2)
	st := &flakyStore{Memory: mem, failures: 2}

	stats := drain(New(st, testConfig(), nil), matching.Result{Record: recs[0]}, matching.Result{Record: recs[1]})
	assert.Equal(t, matching.SinkStats{Persisted: 2}, stats)
	assert.Equal(t, 3, st.calls)
}

func TestWrite_ReportsWriteFailed(t *testing.T) {
	st, recs := testSetup(t, 2)
	st.FailNext(recs[0].ID, 10)
	r := New(st, testConfig(), nil)

	errs := r.write(context.Background(), []store.Update{
		store.RecordUpdate(recs[0], nil, true),
		store.RecordUpdate(recs[1], nil, true),
		{ID: "missing", Fields: store.FieldProcessed, Processed: true},
	})
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[recs[0].ID], ErrWriteFailed)
	assert.ErrorIs(t, errs[recs[0].ID], store.ErrInjected)
	assert.ErrorIs(t, errs["missing"], store.ErrNotFound)
	assert.NotContains(t, errs, recs[1].ID)
	// three attempts for the failing record, one for each of the others
	assert.Equal(t, 5, st.Updates())
}

func TestNew_Defaults(t *testing.T) {
	r := New(store.NewMemory(), types.ReconcilerConfig{}, nil)
	assert.Equal(t, 100, r.cfg.BatchSize)
	assert.Equal(t, uint(1), r.cfg.RetryAttempts)
}
