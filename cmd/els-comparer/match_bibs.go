// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OnlyFart/ElsParsers/internal/matching"
	"github.com/OnlyFart/ElsParsers/internal/normalize"
)

var matchBibsCmd = &cobra.Command{
	Use:   "match-bibs <file>",
	Short: "Find catalog records matching free-text citations",
	Long: `Match-bibs reads citations from a file, one per line, parses each into
authors, title and publisher, and compares it with the catalog. The report
lists every citation, the parsed fields and the matching records ordered by
closeness. Nothing is written to the store.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatchBibs,
}

func init() {
	matchBibsCmd.Flags().StringP("output", "o", "", "write the report to this file instead of stdout")
	matchBibsCmd.Flags().Int("max-parallelism", 0, "citations compared concurrently (default from config)")
	rootCmd.AddCommand(matchBibsCmd)
}

func runMatchBibs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-parallelism") {
		cfg.Comparer.MaxParallelism, _ = cmd.Flags().GetInt("max-parallelism")
	}
	output, _ := cmd.Flags().GetString("output")

	citations, err := readCitations(args[0])
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	norm, err := normalize.New(cfg.Normalizer)
	if err != nil {
		return err
	}
	engine := matching.New(st, norm, cfg.Comparer, nil, matching.WithLogger(logger))
	matches, err := engine.MatchCitations(cmd.Context(), citations)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}
	if err := matching.WriteCitationReport(w, matches); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if output != "" {
		fmt.Fprintf(os.Stdout, "Matched %d citation(s); report written to %s\n", len(matches), output)
	}
	return nil
}

// readCitations returns the non-blank lines of path.
func readCitations(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var citations []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			citations = append(citations, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return citations, nil
}
