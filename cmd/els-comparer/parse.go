// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/OnlyFart/ElsParsers/internal/bibparse"
	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

var parseCmd = &cobra.Command{
	Use:   "parse <citation>",
	Short: "Parse one free-text citation into authors, title and publisher",
	Long: `Parse splits a bibliographic citation into authors, title and publisher
and prints the fields. Known authors and publishers are taken from the
catalog; use --offline to parse with an empty vocabulary and see what the
pattern rules alone recognize.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().Bool("offline", false, "do not read the catalog vocabulary")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	offline, _ := cmd.Flags().GetBool("offline")

	norm, err := normalize.New(cfg.Normalizer)
	if err != nil {
		return err
	}

	var vocab *bibparse.Vocabulary
	if !offline {
		vocab, err = catalogVocabulary(cmd.Context(), cfg.Store, norm)
		if err != nil {
			return err
		}
		authors, publishers := vocab.Len()
		fmt.Fprintf(os.Stderr, "Vocabulary: %d author(s), %d publisher(s)\n", authors, publishers)
	}

	return writeParsed(os.Stdout, bibparse.New(norm, vocab), strings.Join(args, " "))
}

func catalogVocabulary(ctx context.Context, cfg types.StoreConfig, norm *normalize.Normalizer) (*bibparse.Vocabulary, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	records, err := st.Read(ctx, store.Filter{Eligible: true}, store.Projection{})
	if err != nil {
		return nil, fmt.Errorf("reading catalog vocabulary: %w", err)
	}
	return bibparse.BuildVocabulary(records, norm), nil
}

func writeParsed(w io.Writer, p *bibparse.Parser, citation string) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p.Parse(citation)); err != nil {
		return fmt.Errorf("encoding parse result: %w", err)
	}
	return enc.Close()
}
