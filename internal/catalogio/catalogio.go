// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalogio reads crawler output into catalog records and writes the
// catalog back out with its similarity links. Supported formats are YAML,
// JSON (array or JSON Lines) and Parquet, chosen by file extension.
package catalogio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go.yaml.in/yaml/v3"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// Format names a file encoding.
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ErrUnsupportedFormat is returned for an unknown extension or format name.
var ErrUnsupportedFormat = errors.New("unsupported format")

// maxLine bounds one JSON Lines record; bibliographies can be long.
const maxLine = 10 * 1024 * 1024

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q (supported: .yaml, .json, .jsonl, .parquet)", ErrUnsupportedFormat, filepath.Ext(path))
}

// ParseFormat validates a format name given on the command line.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatJSONL, FormatParquet:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// recordRow is the flat Parquet layout of a record. Links are exported to a
// separate file as linkRow values.
type recordRow struct {
	ID           string `parquet:"id"`
	SourceName   string `parquet:"source_name"`
	ExternalID   string `parquet:"external_id"`
	Authors      string `parquet:"authors"`
	ISBN         string `parquet:"isbn"`
	ISSN         string `parquet:"issn"`
	Publisher    string `parquet:"publisher"`
	Title        string `parquet:"title"`
	Year         string `parquet:"year"`
	Pages        int64  `parquet:"pages"`
	Bibliography string `parquet:"bibliography"`
	Processed    bool   `parquet:"processed"`
}

func toRow(r *types.CatalogRecord) recordRow {
	return recordRow{
		ID:           r.ID,
		SourceName:   r.SourceName,
		ExternalID:   r.ExternalID,
		Authors:      r.Authors,
		ISBN:         r.ISBN,
		ISSN:         r.ISSN,
		Publisher:    r.Publisher,
		Title:        r.Title,
		Year:         r.Year,
		Pages:        int64(r.Pages),
		Bibliography: r.RawBibliography,
		Processed:    r.Processed,
	}
}

func (row recordRow) record() *types.CatalogRecord {
	return &types.CatalogRecord{
		ID:              row.ID,
		SourceName:      row.SourceName,
		ExternalID:      row.ExternalID,
		Authors:         row.Authors,
		ISBN:            row.ISBN,
		ISSN:            row.ISSN,
		Publisher:       row.Publisher,
		Title:           row.Title,
		Year:            row.Year,
		Pages:           int(row.Pages),
		RawBibliography: row.Bibliography,
		Processed:       row.Processed,
	}
}

// ReadFile loads records from path, choosing the decoder by extension.
func ReadFile(path string) ([]*types.CatalogRecord, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if format == FormatParquet {
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		return readParquet(f, info.Size())
	}
	records, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// Read decodes records from r. Parquet needs random access; use ReadFile.
func Read(r io.Reader, format Format) ([]*types.CatalogRecord, error) {
	switch format {
	case FormatYAML:
		var records []*types.CatalogRecord
		if err := yaml.NewDecoder(r).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		return records, nil
	case FormatJSON, FormatJSONL:
		br := bufio.NewReader(r)
		if format == FormatJSON && startsWithArray(br) {
			var records []*types.CatalogRecord
			if err := json.NewDecoder(br).Decode(&records); err != nil {
				return nil, fmt.Errorf("parsing JSON: %w", err)
			}
			return records, nil
		}
		return readLines(br)
	case FormatParquet:
		return nil, fmt.Errorf("%w: parquet requires a file", ErrUnsupportedFormat)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// startsWithArray peeks past leading whitespace for '['.
func startsWithArray(br *bufio.Reader) bool {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return false
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		_ = br.UnreadByte()
		return b == '['
	}
}

func readLines(r io.Reader) ([]*types.CatalogRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var records []*types.CatalogRecord
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec types.CatalogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parsing JSON at line %d: %w", lineNum, err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning lines: %w", err)
	}
	return records, nil
}

func readParquet(r io.ReaderAt, size int64) ([]*types.CatalogRecord, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening parquet: %w", err)
	}
	reader := parquet.NewGenericReader[recordRow](pf)
	defer reader.Close()

	records := make([]*types.CatalogRecord, 0, pf.NumRows())
	rows := make([]recordRow, 128)
	for {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			records = append(records, row.record())
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading parquet rows: %w", err)
		}
	}
	return records, nil
}
