package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"studio-ingest/internal/ingest"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/poller"
)

func newIngestCmd(app *cli) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <project-id> <path>...",
		Short: "Upload files or directories to a project as one batch",
		Long: `Upload files or directories to a project as one batch and wait until the
backend has processed it.

Directories are walked recursively; hidden entries are skipped. Interrupting
the command cancels the transfer.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, app, args[0], args[1:], quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not draw a progress bar")

	return cmd
}

func runIngest(cmd *cobra.Command, app *cli, projectID string, paths []string, quiet bool) error {
	files, err := ingest.CollectFiles(paths...)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found under %v", paths)
	}

	out := cmd.OutOrStdout()
	progressOut := cmd.ErrOrStderr()
	if quiet {
		progressOut = io.Discard
	}

	fmt.Fprintf(out, "Uploading %d files (%s) to project %s\n",
		len(files), humanize.Bytes(uint64(ingest.TotalSize(files))), projectID)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionSetWidth(30),
	)

	client := app.transferClient()
	coord := ingest.NewCoordinator(client,
		poller.New(client, poller.WithLogger(app.logger)),
		ingest.WithPollInterval(app.cfg.PollInterval),
		ingest.WithMaxPollAttempts(app.cfg.MaxPollAttempts),
		ingest.WithGraceInterval(app.cfg.GraceInterval),
		ingest.WithLogger(app.logger),
		ingest.WithProgressObserver(func(_ string, percent int) {
			_ = bar.Set(percent)
		}),
		ingest.WithStateObserver(func(_ string, state ingest.State) {
			if state == ingest.StateAwaitingProcessing {
				_ = bar.Finish()
				fmt.Fprintln(progressOut, "\nwaiting for processing")
			}
		}),
	)

	session, err := coord.BeginIngestion(cmd.Context(), projectID, files)
	if err != nil {
		return err
	}

	outcome, err := session.Wait(cmd.Context())
	if err != nil {
		// Interrupted. Cancel settles the outcome before it returns.
		_ = session.Cancel()
		outcome, _ = session.Outcome()
	}

	printOutcome(out, outcome)
	if !outcome.Succeeded {
		return errors.New(outcome.String())
	}
	return nil
}

func printOutcome(w io.Writer, o ingest.Outcome) {
	if o.BatchID != "" {
		fmt.Fprintf(w, "Batch: %s\n", o.BatchID)
	}
	fmt.Fprintf(w, "Result: %s\n", o)
	if o.Succeeded && len(o.Assets) > 0 {
		fmt.Fprintln(w, assetTable(o.Assets))
	}
}

func assetTable(assets []manifest.Asset) string {
	rows := make([][]string, 0, len(assets))
	for _, a := range assets {
		rows = append(rows, []string{a.ID, a.Filename, string(a.Role), humanize.Bytes(uint64(a.Size)), a.SourceID})
	}
	return renderTable(
		[]string{"ID", "File", "Role", "Size", "Source"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
