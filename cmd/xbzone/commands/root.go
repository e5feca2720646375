package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	storePath  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xbzone",
		Short: "xbzone - backend port groups, zoning and export masks for virtualized storage",
		Long: `xbzone plans how a storage virtualization appliance reaches its backend
arrays and keeps the resulting export masks up to date.

Features:
  - Enclosure-aware port group selection across fabrics
  - Director zoning with a per-director path budget
  - Rego policy checks over every plan
  - Export mask changes as locked, tracked workflow steps with rollback`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "database path (overrides store.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newMasksCommand())
	rootCmd.AddCommand(newStepsCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}
