// Package cli implements obsctl, the operator command line for the obscore
// admin API.
package cli

import (
	"log/slog"
	"os"

	"github.com/me/obscore/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagToken     string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking OBSCORE_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("OBSCORE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for obsctl.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "obsctl",
		Short: "obsctl operates an obscore coordination core",
		Long:  "obsctl appends inputs, manages analysis modules and inspects work items, results and conflicts.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter("", logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, flagToken, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "obscore server URL (or OBSCORE_SERVER env)")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("OBSCORE_ADMIN_TOKEN"), "Admin bearer token (or OBSCORE_ADMIN_TOKEN env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newInputsCmd(),
		newModulesCmd(),
		newWorkItemsCmd(),
		newResultsCmd(),
		newConflictsCmd(),
		newStatsCmd(),
		newReconcileCmd(),
		newReclaimCmd(),
		newSweepCmd(),
	)

	return root
}
