// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report summarizes the state of the catalog: records per source,
// how many have been through a comparison run and how many are linked.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// SourceStats holds counts for one source.
type SourceStats struct {
	Source     string `json:"source" yaml:"source"`
	Records    int    `json:"records" yaml:"records"`
	Eligible   int    `json:"eligible" yaml:"eligible"`
	Processed  int    `json:"processed" yaml:"processed"`
	Pending    int    `json:"pending" yaml:"pending"`
	Linked     int    `json:"linked" yaml:"linked"`
	Links      int    `json:"links" yaml:"links"`
	CrossLinks int    `json:"cross_links" yaml:"cross_links"`
}

// Report is the catalog summary.
type Report struct {
	Sources []SourceStats `json:"sources" yaml:"sources"`
	Total   SourceStats   `json:"total" yaml:"total"`
}

// Build reads the whole catalog from st and summarizes it.
func Build(ctx context.Context, st store.Store) (Report, error) {
	records, err := st.Read(ctx, store.Filter{}, store.Projection{WithLinks: true})
	if err != nil {
		return Report{}, fmt.Errorf("reading catalog: %w", err)
	}
	return Summarize(records), nil
}

// Summarize counts records. Pending counts eligible records not yet
// processed; CrossLinks counts links to a different source.
func Summarize(records []*types.CatalogRecord) Report {
	bySource := make(map[string]*SourceStats)
	for _, r := range records {
		s, ok := bySource[r.SourceName]
		if !ok {
			s = &SourceStats{Source: r.SourceName}
			bySource[r.SourceName] = s
		}
		s.Records++
		if r.Eligible() {
			s.Eligible++
			if !r.Processed {
				s.Pending++
			}
		}
		if r.Processed {
			s.Processed++
		}
		n := r.LinkCount()
		if n > 0 {
			s.Linked++
			s.Links += n
		}
		for src, links := range r.SimilarityLinks {
			if src != r.SourceName {
				s.CrossLinks += len(links)
			}
		}
	}

	rep := Report{Total: SourceStats{Source: "total"}}
	for _, s := range bySource {
		rep.Sources = append(rep.Sources, *s)
		rep.Total.Records += s.Records
		rep.Total.Eligible += s.Eligible
		rep.Total.Processed += s.Processed
		rep.Total.Pending += s.Pending
		rep.Total.Linked += s.Linked
		rep.Total.Links += s.Links
		rep.Total.CrossLinks += s.CrossLinks
	}
	sort.Slice(rep.Sources, func(i, j int) bool { return rep.Sources[i].Source < rep.Sources[j].Source })
	return rep
}

// Write prints the report as a table.
func (r Report) Write(w io.Writer) error {
	header := fmt.Sprintf("%-20s  %8s  %8s  %9s  %8s  %8s  %8s  %8s",
		"Source", "Records", "Eligible", "Processed", "Pending", "Linked", "Links", "Cross")
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	fmt.Fprintln(w, strings.Repeat("-", len(header)))
	for _, s := range r.Sources {
		writeRow(w, s)
	}
	fmt.Fprintln(w, strings.Repeat("-", len(header)))
	_, err := writeRow(w, r.Total)
	return err
}

func writeRow(w io.Writer, s SourceStats) (int, error) {
	name := s.Source
	if len([]rune(name)) > 20 {
		name = string([]rune(name)[:17]) + "..."
	}
	return fmt.Fprintf(w, "%-20s  %8d  %8d  %9d  %8d  %8d  %8d  %8d\n",
		name, s.Records, s.Eligible, s.Processed, s.Pending, s.Linked, s.Links, s.CrossLinks)
}
