package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"studio-ingest/internal/models"
)

func newProjectCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <title>",
		Short: "Create an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := app.client().CreateProject(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s\n", project.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := app.client().ListProjects(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), projectTable(projects))
			return nil
		},
	})

	return cmd
}

func projectTable(projects []models.ProjectResponse) string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{
			p.ID,
			p.Title,
			strconv.Itoa(p.AssetCount),
			humanize.Bytes(uint64(p.TotalSize)),
			humanize.Time(p.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Assets", "Size", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
