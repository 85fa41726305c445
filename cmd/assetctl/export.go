package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"studio-ingest/internal/snapshot"
)

func newExportCmd(app *cli) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Download a project as a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := progressbar.DefaultBytes(-1, "downloading")
			packager := snapshot.NewPackager(app.transferClient().Transport(),
				snapshot.WithPackagerLogger(app.logger),
				snapshot.WithDownloadProgress(func(received, total int64) {
					if total > 0 {
						bar.ChangeMax64(total)
					}
					_ = bar.Set64(received)
				}),
			)

			handle, err := packager.ExportProject(cmd.Context(), args[0])
			_ = bar.Finish()
			if err != nil {
				return err
			}

			path, err := handle.Save(outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", path, humanize.Bytes(uint64(len(handle.Data))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory the archive is written to")

	return cmd
}
