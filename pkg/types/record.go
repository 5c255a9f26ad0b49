// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data types for els-comparer.
// record.go holds the catalog record and its similarity links.
package types

import "strings"

// CatalogRecord is one book-metadata entry contributed by one source.
// (SourceName, ExternalID) is unique at creation time; ID is assigned by the
// store and is the identity used for linking and updates.
type CatalogRecord struct {
	// ID is the store-assigned unique identifier.
	ID string `json:"id" yaml:"id" parquet:"id"`

	// SourceName names the library or bookstore the record was harvested from.
	SourceName string `json:"source_name" yaml:"source_name" parquet:"source_name"`

	// ExternalID is the record identifier inside its source.
	ExternalID string `json:"external_id" yaml:"external_id" parquet:"external_id"`

	// Authors is the raw author string as scraped (e.g. "Петров А.Б., Иванов В.").
	Authors string `json:"authors" yaml:"authors" parquet:"authors"`

	ISBN      string `json:"isbn,omitempty" yaml:"isbn,omitempty" parquet:"isbn"`
	ISSN      string `json:"issn,omitempty" yaml:"issn,omitempty" parquet:"issn"`
	Publisher string `json:"publisher,omitempty" yaml:"publisher,omitempty" parquet:"publisher"`
	Title     string `json:"title" yaml:"title" parquet:"title"`
	Year      string `json:"year,omitempty" yaml:"year,omitempty" parquet:"year"`
	Pages     int    `json:"pages,omitempty" yaml:"pages,omitempty" parquet:"pages"`

	// RawBibliography is the free-text citation, when the source provides one.
	RawBibliography string `json:"bibliography,omitempty" yaml:"bibliography,omitempty" parquet:"bibliography"`

	// SimilarityLinks maps a source name to the links pointing at records of
	// that source. During a run the authoritative copy lives in Links.
	SimilarityLinks map[string][]SimilarityLink `json:"similar_links,omitempty" yaml:"similar_links,omitempty" parquet:"-"`

	// Processed reports whether the record has been through a successful run.
	Processed bool `json:"processed" yaml:"processed" parquet:"processed"`

	// Links is the in-memory, concurrency-safe view of SimilarityLinks.
	// It is populated by Prepare and is never serialized.
	Links *LinkSet `json:"-" yaml:"-" parquet:"-"`
}

// SimilarityLink is a lightweight reference to a record believed to describe
// the same book. Two links are equal when their TargetID is equal.
type SimilarityLink struct {
	TargetID         string  `json:"target_id" yaml:"target_id" bson:"target_id"`
	TargetExternalID string  `json:"target_external_id" yaml:"target_external_id" bson:"target_external_id"`
	Coefficient      float64 `json:"coefficient" yaml:"coefficient" bson:"coefficient"`
}

// Eligible reports whether the record has enough data to be compared:
// both Title and Authors must be non-blank.
func (r *CatalogRecord) Eligible() bool {
	return strings.TrimSpace(r.Title) != "" && strings.TrimSpace(r.Authors) != ""
}

// Prepare builds the in-memory LinkSet from the persisted SimilarityLinks.
// It is safe to call more than once; later calls are no-ops.
func (r *CatalogRecord) Prepare() {
	if r.Links != nil {
		return
	}
	r.Links = NewLinkSet(r.SimilarityLinks)
}

// Link returns a reference to r suitable for storing in another record's LinkSet.
func (r *CatalogRecord) Link(coefficient float64) SimilarityLink {
	return SimilarityLink{
		TargetID:         r.ID,
		TargetExternalID: r.ExternalID,
		Coefficient:      coefficient,
	}
}

// LinkCount returns the total number of links across all sources.
func (r *CatalogRecord) LinkCount() int {
	if r.Links != nil {
		return r.Links.Len()
	}
	n := 0
	for _, links := range r.SimilarityLinks {
		n += len(links)
	}
	return n
}
