package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/stores"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

func newMasksCommand() *cobra.Command {
	var (
		arrayID string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "masks [ID]",
		Short: "List export masks, or show one",
		Example: `  # Active masks of every array
  xbzone masks

  # Include deleted masks of one array
  xbzone masks --array array-1 --all

  # One mask
  xbzone masks array-1-mask`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			var masks []*engine.ExportMask
			if len(args) == 1 {
				mask, err := rt.store.GetExportMask(ctx, args[0])
				if err != nil {
					return err
				}
				masks = []*engine.ExportMask{mask}
			} else if masks, err = rt.store.ListExportMasks(ctx, arrayID, all); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, masks)
			}
			if len(masks) == 0 {
				fmt.Fprintln(out, "No export masks")
				return nil
			}
			for _, m := range masks {
				printMask(out, m)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&arrayID, "array", "a", "", "only masks of this array")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive masks")

	return cmd
}

func printMask(w io.Writer, m *engine.ExportMask) {
	state := "active"
	switch {
	case m.Inactive:
		state = "inactive"
	case !m.Created:
		state = "not created"
	}
	fmt.Fprintf(w, "%s (%s) on %s: %s, version %d\n", m.ID, m.Label, m.StorageSystemID, state, m.Version)
	fmt.Fprintf(w, "  Initiators: %s\n", strings.Join(m.Initiators, ", "))
	fmt.Fprintf(w, "  Ports:      %s\n", strings.Join(m.StoragePorts, ", "))
	volumes := make([]string, 0, len(m.Volumes))
	for _, id := range m.Volumes.IDs() {
		volumes = append(volumes, fmt.Sprintf("%s=%d", id, m.Volumes[id]))
	}
	fmt.Fprintf(w, "  Volumes:    %s\n", strings.Join(volumes, ", "))
}

func newStepsCommand() *cobra.Command {
	var (
		workflowID string
		limit      int
		showLocks  bool
	)

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List recorded workflow steps, newest first",
		Example: `  xbzone steps --workflow 2b0c7c0e-4f1e-4d55-9a43-8c1f0f7e2d11
  xbzone steps --locks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			steps, err := rt.store.ListSteps(ctx, workflowID, limit, 0)
			if err != nil {
				return err
			}
			var locks []stores.StepLock
			if showLocks {
				if locks, err = stores.NewLockService(rt.store, stores.LockConfig{}).ListLocks(ctx); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, struct {
					Steps []*workflow.StepRecord `json:"steps"`
					Locks []stores.StepLock      `json:"locks,omitempty"`
				}{steps, locks})
			}

			if len(steps) == 0 {
				fmt.Fprintln(out, "No steps")
			}
			for _, rec := range steps {
				fmt.Fprintf(out, "%s  %s  ", rec.StartedAt.Format(time.RFC3339), rec.WorkflowID)
				if rec.RollbackOf != "" {
					fmt.Fprintf(out, "(rollback of %s) ", rec.RollbackOf)
				}
				printStepRecord(out, "", *rec)
			}
			if showLocks {
				fmt.Fprintf(out, "Locks held: %d\n", len(locks))
				for _, l := range locks {
					fmt.Fprintf(out, "  %s by step %s until %s\n", l.Key, l.StepID, l.ExpiresAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "only steps of this workflow")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of steps")
	cmd.Flags().BoolVar(&showLocks, "locks", false, "also list the step locks held in the database")

	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		filter stores.EventFilter
		level  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded events, newest first",
		Example: `  xbzone events --type zoning.assignment_gap
  xbzone events --level warning --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			filter.Level = stores.EventLevel(level)
			events, err := rt.store.GetEvents(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events")
			}
			for _, e := range events {
				fmt.Fprintf(out, "%s  %-7s %-26s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Type, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter.WorkflowID, "workflow", "w", "", "only events of this workflow")
	cmd.Flags().StringVar(&filter.Type, "type", "", "only events of this type")
	cmd.Flags().StringVar(&level, "level", "", "only events of this level")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")

	return cmd
}
