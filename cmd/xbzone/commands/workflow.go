package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/xbzone/pkg/workflow"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and run persisted workflows",
	}

	cmd.AddCommand(newWorkflowRunCommand())
	cmd.AddCommand(newWorkflowShowCommand())

	return cmd
}

// readWorkflow decodes a newline-delimited JSON workflow file.
func readWorkflow(path string) (*workflow.Workflow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow: %w", err)
	}
	defer file.Close()

	wf, err := workflow.NewDecoder(file).DecodeWorkflow()
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	return wf, nil
}

func newWorkflowRunCommand() *cobra.Command {
	var failOn []string

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run the steps of a workflow file",
		Long: `Run a workflow written by "xbzone export --out". Steps run level by level;
when a step fails, the completed steps are rolled back in reverse order.`,
		Example: `  xbzone workflow run add.ndjson`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			return dispatchWorkflow(cmd, wf, failOn)
		},
	}

	cmd.Flags().StringSliceVar(&failOn, "fail-on", nil, "device operation that reports a failure")

	return cmd
}

func newWorkflowShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show FILE",
		Short: "Print the steps of a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			if _, err := workflow.BuildGraph(wf.Steps); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, wf)
			}
			fmt.Fprintf(out, "Workflow %s: %s\n", wf.ID, wf.Description)
			for _, step := range wf.Steps {
				fmt.Fprintf(out, "  %s %s\n", step.ID, step.Method)
				if len(step.WaitFor) > 0 {
					fmt.Fprintf(out, "    waits for: %v\n", step.WaitFor)
				}
				if step.Rollback != nil {
					fmt.Fprintf(out, "    rollback: %s\n", step.Rollback)
				}
			}
			return nil
		},
	}
}
