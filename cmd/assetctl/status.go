package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show the processing status of an ingest batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.client().FetchStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get batch status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch: %s\n", report.ResourceID)
			fmt.Fprintf(out, "Status: %s\n", report.Status)
			if report.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", report.Error)
			}
			if !report.UpdatedAt.IsZero() {
				fmt.Fprintf(out, "Updated: %s\n", humanize.Time(report.UpdatedAt))
			}
			if len(report.Assets) > 0 {
				fmt.Fprintln(out, assetTable(report.Assets))
			}
			return nil
		},
	}
}
