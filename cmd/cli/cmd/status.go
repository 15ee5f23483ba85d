package cmd

import (
	"fmt"
	"time"

	"gridplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status [run_id]",
	Short: "Get status of a run",
	Long:  `Retrieve a run together with all of its matrix cells: the run state, and per cell the current status, failing step and exit code.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the GRIDPLANE_TOKEN environment variable")
			return
		}

		client := NewRunClient(url, token)
		run, err := client.GetRun(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch run: %v\n", err)
			return
		}

		printRun(cmd, *run)
	},
}

var cellCmd = &cobra.Command{
	Use:   "cell [cell_id]",
	Short: "Get status of a single cell",
	Long:  `Retrieve one matrix cell with its per-step outcomes: which steps ran, which were skipped by a guard, and where a failure halted the sequence.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the GRIDPLANE_TOKEN environment variable")
			return
		}

		client := NewRunClient(url, token)
		cell, err := client.GetCell(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch cell: %v\n", err)
			return
		}

		printCell(cmd, *cell)
	},
}

func printRun(cmd *cobra.Command, run api.RunResponse) {
	icon := statusIcon(run.Status)
	cmd.Printf("%s %sRun Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, run.ID)
	cmd.Printf("%sWorkflow:%s  %s\n", colorDim, colorReset, run.Workflow)
	cmd.Printf("%sEvent:%s     %s on %s\n", colorDim, colorReset, run.Event, run.Branch)
	if run.CommitSHA != "" {
		cmd.Printf("%sCommit:%s    %s\n", colorDim, colorReset, run.CommitSHA)
	}
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(run.Status))
	cmd.Printf("%sCreated:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&run.CreatedAt))
	if run.FinishedAt != nil {
		duration := run.FinishedAt.Sub(run.CreatedAt)
		cmd.Printf("%sFinished:%s  %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(run.FinishedAt),
			colorCyan, formatDuration(duration), colorReset)
	}

	cmd.Printf("\n%sCells:%s\n", colorBold, colorReset)
	for _, cell := range run.Cells {
		cmd.Printf("  %s %s  %s\n", statusIcon(cell.Status), cell.Label, cell.ID)
		if cell.FailedStep != nil {
			cmd.Printf("      %sfailed step:%s %s\n", colorDim, colorReset, *cell.FailedStep)
		}
	}
}

func printCell(cmd *cobra.Command, cell api.CellResponse) {
	icon := statusIcon(cell.Status)
	cmd.Printf("%s %sCell Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, cell.ID)
	cmd.Printf("%sLabel:%s     %s\n", colorDim, colorReset, cell.Label)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(cell.Status))
	cmd.Printf("%sAttempt:%s   %d\n", colorDim, colorReset, cell.Attempt)

	if cell.ExitCode != nil {
		exitCode := *cell.ExitCode
		color := colorGreen
		if exitCode != 0 {
			color = colorRed
		}
		cmd.Printf("%sExit Code:%s %s%d%s\n", colorDim, colorReset, color, exitCode, colorReset)
	}
	if cell.Error != nil {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, *cell.Error, colorReset)
	}

	if len(cell.Steps) > 0 {
		cmd.Printf("\n%sSteps:%s\n", colorBold, colorReset)
		for _, step := range cell.Steps {
			cmd.Printf("  %s %s\n", statusIcon(step.Status), step.Name)
		}
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "succeeded":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	case "skipped":
		return colorDim + "−" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "succeeded":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "running":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	case "skipped":
		return icon + " " + colorDim + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cellCmd)
}
