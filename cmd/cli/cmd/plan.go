package cmd

import (
	"os"

	"gridplane/pkg/workflow"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan [workflow_file]",
	Short: "Show the cells and effective steps an event would produce",
	Long: `Expand a workflow against an event without running anything: which jobs
would trigger, which matrix cells each job produces, and the effective step
list per cell after guard evaluation and matrix expansion.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		wf, err := workflow.Parse(data)
		if err != nil {
			return err
		}

		event, err := eventFromFlags(cmd)
		if err != nil {
			return err
		}

		if !wf.On.Matches(event) {
			cmd.Printf("event %s on branch %q does not trigger %q\n", event.Name, event.Branch(), wf.Name)
			return nil
		}

		order, err := wf.JobOrder()
		if err != nil {
			return err
		}

		cmd.Printf("%s%s%s triggered by %s on %q\n", colorBold, wf.Name, colorReset, event.Name, event.Branch())

		for _, name := range order {
			job := wf.Jobs.Get(name)
			cells := job.Strategy.Matrix.Cells(name)

			cmd.Printf("\njob %s%s%s (%d cells)\n", colorBold, name, colorReset, len(cells))
			if len(job.Needs) > 0 {
				cmd.Printf("  needs: %v\n", job.Needs)
			}

			for _, cell := range cells {
				cmd.Printf("  %s\n", cell.Label)
				for _, step := range job.Steps {
					if step.If != "" {
						ok, err := workflow.EvalGuard(step.If, cell.Values)
						if err != nil {
							return err
						}
						if !ok {
							cmd.Printf("    %s- %s (skipped by guard)%s\n", colorDim, step.Name, colorReset)
							continue
						}
					}

					command, err := workflow.Expand(step.Run, cell.Values)
					if err != nil {
						return err
					}
					cmd.Printf("    - %s: %s\n", step.Name, firstLine(command))
				}
			}
		}

		return nil
	},
}

// firstLine truncates multi-line run blocks for the plan listing.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}

func init() {
	rootCmd.AddCommand(planCmd)
	registerEventFlags(planCmd)
}
