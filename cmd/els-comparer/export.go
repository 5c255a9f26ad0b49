// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OnlyFart/ElsParsers/internal/catalogio"
	"github.com/OnlyFart/ElsParsers/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the catalog with its similarity links to a file",
	Long: `Export writes every record (or one source with --source) with its
similarity links. YAML, JSON and JSON Lines keep links nested in each record.
Parquet writes records to the output file and the links, one row per link, to
a companion <name>.links.parquet file.`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringP("output", "o", "export/catalog.yaml", "output file")
	f.String("format", "", "yaml, json, jsonl or parquet (default: from the output extension)")
	f.String("source", "", "export only records of this source")
	f.Bool("linked-only", false, "export only records that have links")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	formatName, _ := cmd.Flags().GetString("format")
	source, _ := cmd.Flags().GetString("source")
	linkedOnly, _ := cmd.Flags().GetBool("linked-only")

	format, err := exportFormat(output, formatName)
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	return exportCatalog(cmd.Context(), st, output, format, store.Filter{SourceName: source}, linkedOnly, os.Stdout)
}

func exportFormat(output, name string) (catalogio.Format, error) {
	if name != "" {
		return catalogio.ParseFormat(name)
	}
	return catalogio.FormatFromPath(output)
}

func exportCatalog(ctx context.Context, st store.Store, output string, format catalogio.Format, filter store.Filter, linkedOnly bool, w io.Writer) error {
	records, err := st.Read(ctx, filter, store.Projection{WithBibliography: true, WithLinks: true})
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	if linkedOnly {
		kept := records[:0]
		for _, r := range records {
			if r.LinkCount() > 0 {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	catalogio.SortRecords(records)

	summary, err := catalogio.WriteFile(output, format, records)
	if err != nil {
		return err
	}
	for _, f := range summary.Files {
		fmt.Fprintf(w, "Exported to %s\n", f)
	}
	fmt.Fprintf(w, "%d record(s), %d link(s)\n", summary.Records, summary.Links)
	return nil
}
