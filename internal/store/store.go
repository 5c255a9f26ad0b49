// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store defines the catalog store contract consumed by the matching
// engine and the reconciler. Implementations live in sqlstore (SQLite and
// PostgreSQL) and mongostore (MongoDB); Memory is an in-process store used for
// citation matching and tests.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// IndexName is the unique (source_name, external_id) index every store keeps.
const IndexName = "IX_ElsName_ExternalId"

// ErrNotFound is reported in an UpdateResult when no record has the id.
var ErrNotFound = errors.New("record not found")

// Filter narrows Read.
type Filter struct {
	// Eligible keeps records with non-blank title and authors.
	Eligible bool

	// OrBibliography, together with Eligible, also keeps records that carry a
	// raw bibliography from which missing fields may be reconstructed.
	OrBibliography bool

	// OnlyUnprocessed keeps records with Processed=false.
	OnlyUnprocessed bool

	// SourceName, when set, keeps records of one source.
	SourceName string
}

// Match reports whether r passes f. Stores that cannot push a filter down to
// the database use it to filter in memory.
func (f Filter) Match(r *types.CatalogRecord) bool {
	if f.Eligible && !r.Eligible() {
		if !f.OrBibliography || r.RawBibliography == "" {
			return false
		}
	}
	if f.OnlyUnprocessed && r.Processed {
		return false
	}
	if f.SourceName != "" && r.SourceName != f.SourceName {
		return false
	}
	return true
}

// Projection selects optional, potentially large fields.
type Projection struct {
	WithBibliography bool
	WithLinks        bool
}

// Field selects which parts of a record an Update sets.
type Field uint8

const (
	FieldLinks Field = 1 << iota
	FieldProcessed
	FieldDescriptive
)

// Has reports whether f includes field.
func (f Field) Has(field Field) bool { return f&field != 0 }

// Update sets fields of the record with the given store id. Applying the same
// Update twice leaves the record unchanged after the first application.
type Update struct {
	ID     string
	Fields Field

	Links     map[string][]types.SimilarityLink
	Processed bool

	// Descriptive fields, possibly reconstructed from the bibliography.
	Authors   string
	Title     string
	Publisher string
}

// LinksUpdate sets only the similarity links of id.
func LinksUpdate(id string, links map[string][]types.SimilarityLink) Update {
	return Update{ID: id, Fields: FieldLinks, Links: links}
}

// RecordUpdate sets the links, processed flag and descriptive fields of r.
func RecordUpdate(r *types.CatalogRecord, links map[string][]types.SimilarityLink, processed bool) Update {
	return Update{
		ID:        r.ID,
		Fields:    FieldLinks | FieldProcessed | FieldDescriptive,
		Links:     links,
		Processed: processed,
		Authors:   r.Authors,
		Title:     r.Title,
		Publisher: r.Publisher,
	}
}

// UpdateResult reports the outcome for one Update. Err is nil on success.
type UpdateResult struct {
	ID  string
	Err error
}

// Failed returns the results that carry an error.
func Failed(results []UpdateResult) []UpdateResult {
	var out []UpdateResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// InsertSummary holds counts from an import.
type InsertSummary struct {
	Inserted int
	Updated  int
	Failed   int
}

// Total returns the number of records processed.
func (s InsertSummary) Total() int {
	return s.Inserted + s.Updated + s.Failed
}

// Store is the catalog store contract.
type Store interface {
	// Read loads the records that pass filter. Failure here is fatal to a run.
	Read(ctx context.Context, filter Filter, proj Projection) ([]*types.CatalogRecord, error)

	// UpdateMany applies updates and reports a result per update, in order.
	// A non-nil error means no update in the batch is known to have applied.
	UpdateMany(ctx context.Context, updates []Update) ([]UpdateResult, error)

	// Insert upserts records keyed by (SourceName, ExternalID) and assigns
	// store ids to new ones. Existing links and processed flags are kept.
	Insert(ctx context.Context, records []*types.CatalogRecord) (InsertSummary, error)

	// EnsureIndex creates IndexName when missing and reports whether it did.
	EnsureIndex(ctx context.Context) (bool, error)

	Close() error
}

// ValidateForInsert checks the identity fields required by Insert.
func ValidateForInsert(r *types.CatalogRecord) error {
	if r.SourceName == "" || r.ExternalID == "" {
		return fmt.Errorf("record %q/%q: source name and external id are required", r.SourceName, r.ExternalID)
	}
	return nil
}
