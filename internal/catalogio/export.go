// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalogio

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go.yaml.in/yaml/v3"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// LinkRow is one similarity link flattened for tabular export.
type LinkRow struct {
	SourceID         string  `json:"source_id" yaml:"source_id" parquet:"source_id"`
	TargetID         string  `json:"target_id" yaml:"target_id" parquet:"target_id"`
	TargetSource     string  `json:"target_source" yaml:"target_source" parquet:"target_source"`
	TargetExternalID string  `json:"target_external_id" yaml:"target_external_id" parquet:"target_external_id"`
	Coefficient      float64 `json:"coefficient" yaml:"coefficient" parquet:"coefficient"`
}

// ExportSummary holds counts from an export.
type ExportSummary struct {
	Records int
	Links   int
	Files   []string
}

// FlattenLinks returns one row per link, ordered by source record, target
// source and target id.
func FlattenLinks(records []*types.CatalogRecord) []LinkRow {
	var rows []LinkRow
	for _, r := range records {
		sources := make([]string, 0, len(r.SimilarityLinks))
		for src := range r.SimilarityLinks {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			links := append([]types.SimilarityLink(nil), r.SimilarityLinks[src]...)
			sort.Slice(links, func(i, j int) bool { return links[i].TargetID < links[j].TargetID })
			for _, l := range links {
				rows = append(rows, LinkRow{
					SourceID:         r.ID,
					TargetID:         l.TargetID,
					TargetSource:     src,
					TargetExternalID: l.TargetExternalID,
					Coefficient:      l.Coefficient,
				})
			}
		}
	}
	return rows
}

// SortRecords orders records by source name, then external id.
func SortRecords(records []*types.CatalogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SourceName != records[j].SourceName {
			return records[i].SourceName < records[j].SourceName
		}
		return records[i].ExternalID < records[j].ExternalID
	})
}

// Write encodes records with their links to w. Parquet writes the records
// only; use WriteFile to get the links file as well.
func Write(w io.Writer, format Format, records []*types.CatalogRecord) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("marshaling record %s: %w", r.ID, err)
			}
		}
		return nil
	case FormatParquet:
		rows := make([]recordRow, len(records))
		for i, r := range records {
			rows[i] = toRow(r)
		}
		return writeParquet(w, rows)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// WriteLinks encodes flattened link rows to w as Parquet.
func WriteLinks(w io.Writer, rows []LinkRow) error {
	return writeParquet(w, rows)
}

func writeParquet[T any](w io.Writer, rows []T) error {
	pw := parquet.NewGenericWriter[T](w)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// LinksPath returns the companion links file for a Parquet export:
// catalog.parquet becomes catalog.links.parquet.
func LinksPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".links" + ext
}

// WriteFile exports records to path in the given format. Parquet exports
// also write the flattened links next to the records file.
func WriteFile(path string, format Format, records []*types.CatalogRecord) (ExportSummary, error) {
	summary := ExportSummary{Records: len(records)}
	for _, r := range records {
		summary.Links += r.LinkCount()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := writeFile(path, func(w io.Writer) error { return Write(w, format, records) }); err != nil {
		return summary, err
	}
	summary.Files = append(summary.Files, path)

	if format == FormatParquet {
		lp := LinksPath(path)
		rows := FlattenLinks(records)
		if err := writeFile(lp, func(w io.Writer) error { return WriteLinks(w, rows) }); err != nil {
			return summary, err
		}
		summary.Files = append(summary.Files, lp)
	}
	return summary, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
