package cmd

import (
	"os"

	"gridplane/pkg/workflow"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow_file]",
	Short: "Validate a workflow document",
	Long:  `Parse a workflow document and check it for structural problems: jobs without steps, steps without commands, guards or expansions referencing unknown matrix axes, and unknown or cyclic needs references.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		wf, err := workflow.Parse(data)
		if err != nil {
			return err
		}

		cells := 0
		for _, name := range wf.Jobs.Names() {
			cells += len(wf.Jobs.Get(name).Strategy.Matrix.Cells(name))
		}

		cmd.Printf("%s✓%s %s is valid\n", colorGreen, colorReset, args[0])
		cmd.Printf("  workflow: %s\n", wf.Name)
		cmd.Printf("  jobs:     %d\n", wf.Jobs.Len())
		cmd.Printf("  cells:    %d\n", cells)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
