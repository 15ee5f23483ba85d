package cmd

import (
	"fmt"
	"os"

	"gridplane/internal/logger"
	"gridplane/internal/runner"
	"gridplane/pkg/workflow"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [workflow_file]",
	Short: "Run a workflow locally",
	Long: `Run a workflow on this machine without a controller: the event is matched
against the triggers, every matrix cell runs its step sequence in a scratch
directory, and the per-cell outcomes are printed. A failing step fails its
cell only; sibling cells run to completion.`,
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

		workDir, _ := cmd.Flags().GetString("workdir")
		if workDir == "" {
			workDir, err = os.MkdirTemp("", "gridplane-run-*")
			if err != nil {
				return err
			}
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		hooks := runner.Hooks{}
		if !quiet {
			hooks.LogLine = func(line string) {
				cmd.Println(line)
			}
		}

		result, err := runner.RunLocal(cmd.Context(), wf, runner.LocalOptions{
			Event:   event,
			WorkDir: workDir,
			Logger:  logger.New(""),
			Hooks:   hooks,
		})
		if err != nil {
			return err
		}

		if !result.Triggered {
			cmd.Printf("nothing to run: %s\n", result.Reason)
			return nil
		}

		cmd.Println()
		for _, jr := range result.Jobs {
			if jr.Skipped {
				cmd.Printf("%s job %s skipped\n", statusIcon("skipped"), jr.Job)
				continue
			}
			for _, cr := range jr.Cells {
				cmd.Printf("%s %s\n", statusIcon(cr.Result.Status), cr.Cell.Label)
				if cr.Result.Status == runner.StatusFailed {
					cmd.Printf("    failed step: %s (exit code %d)\n", cr.Result.FailedStep, cr.Result.ExitCode)
				}
			}
		}

		if result.Failed() {
			return fmt.Errorf("run failed")
		}

		cmd.Printf("\n%s✓%s run succeeded\n", colorGreen, colorReset)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	registerEventFlags(runCmd)
	runCmd.Flags().String("workdir", "", "directory for cell workspaces (default: a temp directory)")
	runCmd.Flags().Bool("quiet", false, "suppress step output")
}
