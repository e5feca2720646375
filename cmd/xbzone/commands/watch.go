package commands

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/xbzone/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		topologyPath string
		policyPaths  []string
		directors    int
		save         bool
		serveMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan whenever the topology or a policy changes",
		Long: `Plan the topology once, then again every time the topology file or one of
the policy files changes. Policy changes reload the custom policies before
planning. Planning errors are reported and watching continues.`,
		Example: `  # Watch a topology and a policy directory, exposing metrics
  xbzone watch --topology fabric.cue --policies ./policies --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if serveMetrics {
				if err := rt.tel.StartMetricsServer(); err != nil {
					return err
				}
			}

			p, err := newPlanner(ctx, rt, policyPaths, directors)
			if err != nil {
				return err
			}

			replan := func(ctx context.Context) {
				report, topo, err := p.plan(ctx, topologyPath)
				if err != nil {
					log.Error().Err(err).Str("topology", topologyPath).Msg("Planning failed")
					return
				}
				if save {
					if err := p.save(ctx, topo, report); err != nil {
						log.Error().Err(err).Msg("Failed to save plan")
					}
				}
				if jsonOutput {
					_ = printJSON(cmd.OutOrStdout(), report)
				} else {
					printPlanReport(cmd.OutOrStdout(), report)
				}
			}
			replan(ctx)

			topology := filepath.Clean(topologyPath)
			loader := policy.NewLoader(rt.logger)
			onChange := func(changed []string) {
				for _, name := range changed {
					if name == topology {
						continue
					}
					log.Info().Strs("changed", changed).Msg("Reloading policies")
					if err := p.policies.LoadPolicies(ctx, policyPaths); err != nil {
						log.Error().Err(err).Msg("Failed to reload policies, keeping the previous set")
					}
					break
				}
				replan(ctx)
			}

			return loader.Watch(ctx, append([]string{topologyPath}, policyPaths...), onChange)
		},
	}

	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology file (.json or .cue)")
	cmd.Flags().StringSliceVarP(&policyPaths, "policies", "p", nil, "policy files or directories")
	cmd.Flags().IntVar(&directors, "directors", 0, "number of directors (default: from topology or config)")
	cmd.Flags().BoolVar(&save, "save", false, "record the topology and update export masks on every plan")
	cmd.Flags().BoolVar(&serveMetrics, "metrics", false, "serve Prometheus metrics while watching")
	cmd.MarkFlagRequired("topology")

	return cmd
}
