package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInitCommand() *cobra.Command {
	var (
		writeConfig string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the xbzone database",
		Long: `Create the SQLite database and apply every pending schema migration.

With --write-config the effective configuration is written as YAML, which is a
convenient starting point for a config file.`,
		Example: `  # Create ./xbzone.db
  xbzone init

  # Create the database elsewhere and write a config file for it
  xbzone init --store /var/lib/xbzone/xbzone.db --write-config /etc/xbzone.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			log.Info().Str("store", rt.cfg.Store.Path).Msg("Initializing database")
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", rt.cfg.Store.Path)

			if writeConfig == "" {
				return nil
			}
			if _, err := os.Stat(writeConfig); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", writeConfig)
			}
			data, err := yaml.Marshal(rt.cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			if err := os.WriteFile(writeConfig, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", writeConfig)
			return nil
		},
	}

	cmd.Flags().StringVar(&writeConfig, "write-config", "", "write the effective configuration to this file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
