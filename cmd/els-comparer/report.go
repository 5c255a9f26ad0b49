// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/OnlyFart/ElsParsers/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the catalog per source",
	Long: `Report prints, for each source, the number of records, how many are
eligible for comparison, processed and pending, how many have links, the
total number of links and how many of them point to another source.`,
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

		rep, err := report.Build(cmd.Context(), st)
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		return rep.Write(os.Stdout)
	},
}

func init() {
	reportCmd.Flags().Bool("json", false, "output the report as JSON")
	rootCmd.AddCommand(reportCmd)
}
