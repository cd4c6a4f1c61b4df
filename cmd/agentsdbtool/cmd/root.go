// Package cmd provides the agentsdbtool CLI commands.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentsdb/agentsdb/internal/logging"
	"github.com/agentsdb/agentsdb/pkg/version"
)

var debugMode bool
var loggingCleanup func()

// NewRootCmd creates the root command for the agentsdbtool CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agentsdbtool",
		Short:   "Smoke-test harness for the agentsdb layered context store",
		Version: version.Version,
	}
	cmd.SetVersionTemplate("agentsdbtool version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.agentsdb/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newDemoCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
