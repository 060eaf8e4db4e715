// Package cli implements the ditreport command line.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Session transports selectable with --session.
const (
	SessionBridge  = "bridge"
	SessionFixture = "fixture"
)

type globalFlags struct {
	session  string
	fixture  string
	logLevel string
}

func NewRootCmd(version string) *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "ditreport",
		Short: "Dailies reports, clip tables and stills from an editing session",
		Long: `ditreport reads the open project of a running editing application and
turns its timelines into PDF dailies reports, CSV/Parquet clip tables, EDLs
and thumbnail batches.

Use --session fixture --fixture project.yaml to work from an offline project
snapshot instead of a live application.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVar(&g.session, "session", SessionBridge, "session transport: bridge or fixture")
	cmd.PersistentFlags().StringVar(&g.fixture, "fixture", "", "project snapshot YAML used with --session fixture")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (overrides DITREPORT_LOG_LEVEL)")

	cmd.AddCommand(
		newServeCmd(g, version),
		newStatsCmd(g),
		newTimelinesCmd(g),
		newReportCmd(g),
		newThumbnailsCmd(g),
		newRunsCmd(g),
	)

	return cmd
}
