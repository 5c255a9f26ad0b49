// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OnlyFart/ElsParsers/internal/store"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Create the unique (source, external id) index if it is missing",
	Long: `Index ensures the store has the unique index IX_ElsName_ExternalId over
source name and external id. Compare and import run the same check, so this
command is only needed to prepare a store ahead of time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		_, err = ensureIndex(cmd.Context(), st, os.Stdout)
		return err
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func ensureIndex(ctx context.Context, st store.Store, w io.Writer) (bool, error) {
	created, err := st.EnsureIndex(ctx)
	if err != nil {
		return false, fmt.Errorf("ensuring index %s: %w", store.IndexName, err)
	}
	if created {
		fmt.Fprintf(w, "Created index %s\n", store.IndexName)
	} else {
		fmt.Fprintf(w, "Index %s already exists\n", store.IndexName)
	}
	return created, nil
}
