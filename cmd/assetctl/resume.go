package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"studio-ingest/internal/snapshot"
)

func newResumeCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <archive.zip>",
		Short: "Restore a project from an exported archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}

			bar := progressbar.DefaultBytes(int64(len(data)), "uploading")
			unpacker := snapshot.NewUnpacker(app.transferClient().Transport(),
				snapshot.WithUnpackerLogger(app.logger),
				snapshot.WithUploadProgress(func(sent, _ int64) {
					_ = bar.Set64(sent)
				}),
			)

			project, err := unpacker.ResumeProject(cmd.Context(), filepath.Base(args[0]), data)
			_ = bar.Finish()
			if err != nil {
				var resumeErr *snapshot.ResumeError
				if errors.As(err, &resumeErr) {
					printResumeError(cmd.ErrOrStderr(), resumeErr)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Resumed project %s (%s)\n", project.ID, project.Title)
			if project.Manifest != nil {
				count, size := project.Manifest.Stats()
				fmt.Fprintf(out, "Assets: %d, %s\n", count, humanize.Bytes(uint64(size)))
			}
			return nil
		},
	}
}

func printResumeError(w io.Writer, e *snapshot.ResumeError) {
	fmt.Fprintf(w, "Archive rejected: %s\n", e.Kind)
	if e.Message != "" {
		fmt.Fprintf(w, "  %s\n", e.Message)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(w, "  missing from archive: %s\n", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(w, "  not in manifest: %s\n", strings.Join(e.Extra, ", "))
	}
}
