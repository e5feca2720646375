package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/exportmask"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Change the volumes exported through a backend export mask",
		Long: `Add or remove volumes on an export mask as a workflow step.

The step locks every host of the mask on the array, drives the device and
records the outcome. A failed add is rolled back by removing the volumes again.
Devices are simulated; --fail-on injects a failure into a device operation.`,
	}

	cmd.AddCommand(newExportAddCommand())
	cmd.AddCommand(newExportRemoveCommand())

	return cmd
}

// exportFlags are shared by export add and export remove.
type exportFlags struct {
	arrayID string
	maskID  string
	volumes []string
	failOn  []string
	outFile string
}

func (f *exportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.arrayID, "array", "a", "", "array ID")
	cmd.Flags().StringVarP(&f.maskID, "mask", "m", "", "export mask ID (default \"<array>-mask\")")
	cmd.Flags().StringSliceVar(&f.volumes, "volume", nil, "volume to change, repeatable")
	cmd.Flags().StringSliceVar(&f.failOn, "fail-on", nil, "device operation that reports a failure")
	cmd.Flags().StringVarP(&f.outFile, "out", "o", "", "write the workflow to this file instead of running it")
	cmd.MarkFlagRequired("array")
	cmd.MarkFlagRequired("volume")
}

func (f *exportFlags) mask() string {
	if f.maskID == "" {
		return maskIDFor(f.arrayID)
	}
	return f.maskID
}

// parseVolumes reads VOLUME=HLU arguments. A volume without an HLU is
// exported with HLU -1, leaving the choice to the array.
func parseVolumes(args []string) (engine.VolumeMap, error) {
	volumes := engine.VolumeMap{}
	for _, arg := range args {
		id, hlu, found := strings.Cut(arg, "=")
		if id == "" {
			return nil, fmt.Errorf("invalid volume %q", arg)
		}
		if !found {
			volumes[id] = -1
			continue
		}
		n, err := strconv.Atoi(hlu)
		if err != nil {
			return nil, fmt.Errorf("invalid HLU in %q: %w", arg, err)
		}
		volumes[id] = n
	}
	return volumes, nil
}

func newExportAddCommand() *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Export volumes through a mask",
		Example: `  # Export two volumes with fixed HLUs
  xbzone export add --array array-1 --volume vol-1=1 --volume vol-2=2

  # Write the workflow for later instead of running it
  xbzone export add --array array-1 --volume vol-1 --out add.ndjson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			volumes, err := parseVolumes(flags.volumes)
			if err != nil {
				return err
			}
			step, err := exportmask.AddVolumesStep(flags.arrayID, flags.mask(), volumes)
			if err != nil {
				return err
			}
			return runSingleStep(cmd, &flags, step)
		},
	}

	flags.register(cmd)
	return cmd
}

func newExportRemoveCommand() *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove volumes from a mask, deleting it once it exports nothing",
		Example: `  xbzone export remove --array array-1 --volume vol-1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			volumes, err := parseVolumes(flags.volumes)
			if err != nil {
				return err
			}
			step, err := exportmask.RemoveVolumesStep(flags.arrayID, flags.mask(), volumes.IDs())
			if err != nil {
				return err
			}
			return runSingleStep(cmd, &flags, step)
		},
	}

	flags.register(cmd)
	return cmd
}

// runSingleStep runs step as a one-step workflow, or writes it to --out.
func runSingleStep(cmd *cobra.Command, flags *exportFlags, step workflow.Step) error {
	wf := &workflow.Workflow{
		ID:          uuid.New().String(),
		Description: fmt.Sprintf("%s on %s", cmd.Name(), flags.mask()),
	}
	wf.AddStep(step)

	if flags.outFile != "" {
		file, err := os.Create(flags.outFile)
		if err != nil {
			return fmt.Errorf("failed to create workflow file: %w", err)
		}
		defer file.Close()
		if err := workflow.NewEncoder(file).EncodeWorkflow(wf); err != nil {
			return fmt.Errorf("failed to write workflow: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote workflow %s: %s\n", wf.ID, flags.outFile)
		return nil
	}

	return dispatchWorkflow(cmd, wf, flags.failOn)
}

// dispatchWorkflow runs wf and prints its result. A workflow that does not
// succeed is an error.
func dispatchWorkflow(cmd *cobra.Command, wf *workflow.Workflow, failOn []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	dispatcher, err := rt.dispatcher(failOn)
	if err != nil {
		return err
	}

	log.Info().Str("workflow_id", wf.ID).Int("steps", len(wf.Steps)).Msg("Running workflow")
	result, err := dispatcher.Run(rt.withTelemetry(ctx), wf)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printWorkflowResult(cmd.OutOrStdout(), result)
	}

	if result.Status != engine.WorkflowStatusSucceeded {
		if result.Err != nil {
			return fmt.Errorf("workflow %s %s: %w", result.WorkflowID, result.Status, result.Err)
		}
		return fmt.Errorf("workflow %s %s", result.WorkflowID, result.Status)
	}
	return nil
}

func printWorkflowResult(w io.Writer, result *workflow.Result) {
	succeeded, failed, skipped := result.Summary()
	fmt.Fprintf(w, "Workflow %s: %s (%d succeeded, %d failed, %d skipped) in %s\n",
		result.WorkflowID, result.Status, succeeded, failed, skipped, result.Duration.Round(time.Millisecond))
	for _, rec := range result.Steps {
		printStepRecord(w, "  ", rec)
	}
	if len(result.Rollbacks) > 0 {
		fmt.Fprintln(w, "  Rollback:")
		for _, rec := range result.Rollbacks {
			printStepRecord(w, "    ", rec)
		}
	}
}

func printStepRecord(w io.Writer, indent string, rec workflow.StepRecord) {
	fmt.Fprintf(w, "%s%s %s [%s]", indent, rec.ID, rec.Method, rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(w, ": %s", rec.Error)
	}
	fmt.Fprintln(w)
}
