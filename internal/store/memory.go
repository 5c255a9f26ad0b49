// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// ErrInjected is the error Memory reports for updates it was told to fail.
var ErrInjected = errors.New("injected write failure")

// Memory is an in-process Store. Records are copied on the way in and out,
// so callers never share state with the store.
type Memory struct {
	mu       sync.Mutex
	records  map[string]*types.CatalogRecord
	order    []string
	byKey    map[string]string
	failNext map[string]int
	readErr  error
	updates  int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]*types.CatalogRecord),
		byKey:    make(map[string]string),
		failNext: make(map[string]int),
	}
}

// FailNext makes the next n updates addressed to id fail with ErrInjected.
func (m *Memory) FailNext(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[id] += n
}

// FailRead makes every Read return err until called with nil.
func (m *Memory) FailRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Updates returns the number of update operations applied or attempted.
func (m *Memory) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Get returns a copy of the record with id, or nil.
func (m *Memory) Get(id string) *types.CatalogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil
	}
	return cloneRecord(r, Projection{WithBibliography: true, WithLinks: true})
}

// Read implements Store.
func (m *Memory) Read(ctx context.Context, filter Filter, proj Projection) ([]*types.CatalogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}

	var out []*types.CatalogRecord
	for _, id := range m.order {
		r := m.records[id]
		if filter.Match(r) {
			out = append(out, cloneRecord(r, proj))
		}
	}
	return out, nil
}

// UpdateMany implements Store.
func (m *Memory) UpdateMany(ctx context.Context, updates []Update) ([]UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]UpdateResult, len(updates))
	for i, u := range updates {
		m.updates++
		results[i].ID = u.ID
		if m.failNext[u.ID] > 0 {
			m.failNext[u.ID]--
			results[i].Err = fmt.Errorf("updating %s: %w", u.ID, ErrInjected)
			continue
		}
		r, ok := m.records[u.ID]
		if !ok {
			results[i].Err = fmt.Errorf("updating %s: %w", u.ID, ErrNotFound)
			continue
		}
		applyUpdate(r, u)
	}
	return results, nil
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, records []*types.CatalogRecord) (InsertSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var summary InsertSummary
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := ValidateForInsert(rec); err != nil {
			summary.Failed++
			continue
		}
		key := rec.SourceName + "\x00" + rec.ExternalID
		if id, ok := m.byKey[key]; ok {
			existing := m.records[id]
			c := cloneRecord(rec, Projection{WithBibliography: true})
			c.ID = id
			c.SimilarityLinks = existing.SimilarityLinks
			c.Processed = existing.Processed
			m.records[id] = c
			rec.ID = id
			summary.Updated++
			continue
		}

		c := cloneRecord(rec, Projection{WithBibliography: true, WithLinks: true})
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		m.records[c.ID] = c
		m.byKey[key] = c.ID
		m.order = append(m.order, c.ID)
		rec.ID = c.ID
		summary.Inserted++
	}
	return summary, nil
}

// EnsureIndex implements Store. Memory always enforces the unique key.
func (m *Memory) EnsureIndex(context.Context) (bool, error) { return false, nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

// applyUpdate sets the fields selected by u on r.
func applyUpdate(r *types.CatalogRecord, u Update) {
	if u.Fields.Has(FieldLinks) {
		r.SimilarityLinks = cloneLinks(u.Links)
	}
	if u.Fields.Has(FieldProcessed) {
		r.Processed = u.Processed
	}
	if u.Fields.Has(FieldDescriptive) {
		r.Authors = u.Authors
		r.Title = u.Title
		r.Publisher = u.Publisher
	}
}

func cloneRecord(r *types.CatalogRecord, proj Projection) *types.CatalogRecord {
	c := *r
	c.Links = nil
	c.SimilarityLinks = nil
	if proj.WithLinks {
		c.SimilarityLinks = cloneLinks(r.SimilarityLinks)
	}
	if !proj.WithBibliography {
		c.RawBibliography = ""
	}
	return &c
}

func cloneLinks(in map[string][]types.SimilarityLink) map[string][]types.SimilarityLink {
	if in == nil {
		return nil
	}
	out := make(map[string][]types.SimilarityLink, len(in))
	for k, v := range in {
		out[k] = append([]types.SimilarityLink(nil), v...)
	}
	return out
}
