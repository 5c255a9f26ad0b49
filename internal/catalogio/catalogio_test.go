// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalogio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

func sampleRecords() []*types.CatalogRecord {
	return []*types.CatalogRecord{
		{
			ID:         "b",
			SourceName: "urait",
			ExternalID: "2",
			Authors:    "Иванов В.",
			Title:      "Физика",
			Pages:      120,
			Processed:  true,
			SimilarityLinks: map[string][]types.SimilarityLink{
				"znanium": {{TargetID: "z", TargetExternalID: "9", Coefficient: 0.2}},
				"lan": {
					{TargetID: "y", TargetExternalID: "8", Coefficient: 0.1},
					{TargetID: "x", TargetExternalID: "7", Coefficient: 0.3},
				},
			},
		},
		{
			ID:              "a",
			SourceName:      "lan",
			ExternalID:      "1",
			Authors:         "Петров А.Б.",
			Title:           "Методика обучения",
			Publisher:       "Просвещение",
			Year:            "2019",
			RawBibliography: "Петров А.Б. Методика обучения. М.: Просвещение, 2019.",
		},
	}
}

var ignoreLinkSet = cmpopts.IgnoreFields(types.CatalogRecord{}, "Links")

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"out/catalog.yaml", FormatYAML},
		{"catalog.YML", FormatYAML},
		{"catalog.json", FormatJSON},
		{"catalog.jsonl", FormatJSONL},
		{"catalog.ndjson", FormatJSONL},
		{"catalog.parquet", FormatParquet},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := FormatFromPath("catalog.csv")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRead_JSONArrayAndLines(t *testing.T) {
	array := `
  [{"source_name":"lan","external_id":"1","authors":"Петров А.Б.","title":"Физика"}]`
	recs, err := Read(strings.NewReader(array), FormatJSON)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Физика", recs[0].Title)

	lines := `{"source_name":"lan","external_id":"1","title":"Физика"}

{"source_name":"lan","external_id":"2","title":"Химия","pages":10}
`
	for _, f := range []Format{FormatJSON, FormatJSONL} {
		recs, err := Read(strings.NewReader(lines), f)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, 10, recs[1].Pages)
	}
}

func TestRead_JSONLinesReportsLine(t *testing.T) {
	_, err := Read(strings.NewReader("{\"title\":\"ok\"}\n{broken\n"), FormatJSONL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRead_EmptyYAML(t *testing.T) {
	recs, err := Read(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRead_ParquetNeedsFile(t *testing.T) {
	_, err := Read(strings.NewReader(""), FormatParquet)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatJSON, FormatJSONL} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "export", "catalog."+string(format))
			want := sampleRecords()

			summary, err := WriteFile(path, format, want)
			require.NoError(t, err)
			assert.Equal(t, ExportSummary{Records: 2, Links: 3, Files: []string{path}}, summary)

			got, err := ReadFile(path)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got, ignoreLinkSet, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteFile_ParquetWritesLinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.parquet")
	want := sampleRecords()

	summary, err := WriteFile(path, FormatParquet, want)
	require.NoError(t, err)
	linksPath := filepath.Join(filepath.Dir(path), "catalog.links.parquet")
	assert.Equal(t, []string{path, linksPath}, summary.Files)

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[1].RawBibliography, got[1].RawBibliography)
	assert.Equal(t, 120, got[0].Pages)
	assert.True(t, got[0].Processed)
	assert.Nil(t, got[0].SimilarityLinks, "links live in the companion file")

	rows, err := parquet.ReadFile[LinkRow](linksPath)
	require.NoError(t, err)
	if diff := cmp.Diff(FlattenLinks(want), rows); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestFlattenLinks_Ordered(t *testing.T) {
	rows := FlattenLinks(sampleRecords())
	want := []LinkRow{
		{SourceID: "b", TargetID: "x", TargetSource: "lan", TargetExternalID: "7", Coefficient: 0.3},
		{SourceID: "b", TargetID: "y", TargetSource: "lan", TargetExternalID: "8", Coefficient: 0.1},
		{SourceID: "b", TargetID: "z", TargetSource: "znanium", TargetExternalID: "9", Coefficient: 0.2},
	}
	assert.Equal(t, want, rows)
}

func TestSortRecords(t *testing.T) {
	recs := sampleRecords()
	SortRecords(recs)
	assert.Equal(t, "lan", recs[0].SourceName)
	assert.Equal(t, "urait", recs[1].SourceName)
}

func TestLinksPath(t *testing.T) {
	assert.Equal(t, "out/catalog.links.parquet", LinksPath("out/catalog.parquet"))
}

func TestWrite_JSONLOneRecordPerLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSONL, sampleRecords()))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
