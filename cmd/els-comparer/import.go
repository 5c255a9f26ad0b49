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

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Load crawler output into the catalog store",
	Long: `Import reads catalog records from YAML, JSON, JSON Lines or Parquet files
(chosen by extension) and upserts them by source name and external id. New
records get a store id; existing records keep their id, links and processed
flag while their descriptive fields are replaced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().Int("batch-size", 1000, "records inserted per transaction")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	st, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := ensureIndex(cmd.Context(), st, os.Stdout); err != nil {
		return err
	}
	summary, err := importFiles(cmd.Context(), st, args, batchSize, os.Stdout)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d record(s) failed to import", summary.Failed)
	}
	return nil
}

// importFiles inserts the records of every file in batches and prints
// per-file progress to w.
func importFiles(ctx context.Context, st store.Store, paths []string, batchSize int, w io.Writer) (store.InsertSummary, error) {
	if batchSize < 1 {
		batchSize = 1000
	}
	var total store.InsertSummary
	for _, path := range paths {
		records, err := catalogio.ReadFile(path)
		if err != nil {
			return total, err
		}
		var fileSummary store.InsertSummary
		for start := 0; start < len(records); start += batchSize {
			end := min(start+batchSize, len(records))
			s, err := st.Insert(ctx, records[start:end])
			fileSummary.Inserted += s.Inserted
			fileSummary.Updated += s.Updated
			fileSummary.Failed += s.Failed
			if err != nil {
				return total, fmt.Errorf("importing %s: %w", path, err)
			}
		}
		fmt.Fprintf(w, "%s: %d inserted, %d updated, %d failed\n",
			path, fileSummary.Inserted, fileSummary.Updated, fileSummary.Failed)
		total.Inserted += fileSummary.Inserted
		total.Updated += fileSummary.Updated
		total.Failed += fileSummary.Failed
	}
	fmt.Fprintf(w, "\nImported %d record(s) from %d file(s): %d inserted, %d updated, %d failed\n",
		total.Total(), len(paths), total.Inserted, total.Updated, total.Failed)
	return total, nil
}
