package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"studio-ingest/internal/apiclient"
	"studio-ingest/internal/config"
	"studio-ingest/internal/logging"
	"studio-ingest/internal/transport"
)

// cli carries the state shared by every subcommand once flags are parsed.
type cli struct {
	cfg    *config.ClientConfig
	logger *slog.Logger

	apiURL   string
	token    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	app := &cli{}

	rootCmd := &cobra.Command{
		Use:   "assetctl",
		Short: "Upload asset batches and move projects in and out of the studio backend",
		Long: `assetctl talks to the studio ingest API.

Configuration comes from STUDIO_CONFIG (a YAML file) and STUDIO_* environment
variables. Flags override both.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.load,
	}

	rootCmd.PersistentFlags().StringVar(&app.apiURL, "api-url", "", "Base URL of the API, including /api/v1")
	rootCmd.PersistentFlags().StringVar(&app.token, "token", "", "Bearer token sent with every request")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newIngestCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
	rootCmd.AddCommand(newResumeCmd(app))
	rootCmd.AddCommand(newProjectCmd(app))

	return rootCmd
}

func (a *cli) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = a.apiURL
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(cfg.LogLevel, "text", os.Stderr)
	return nil
}

// client returns an API client for short JSON calls.
func (a *cli) client() *apiclient.Client {
	return a.clientWithTimeout(a.cfg.Timeout)
}

// transferClient returns an API client without a request timeout. Uploads and
// downloads are bounded by the command context instead.
func (a *cli) transferClient() *apiclient.Client {
	return a.clientWithTimeout(0)
}

func (a *cli) clientWithTimeout(timeout time.Duration) *apiclient.Client {
	t := transport.NewHTTPTransport(a.cfg.APIURL, a.cfg.Token, timeout)
	return apiclient.NewClient(t, a.logger)
}
