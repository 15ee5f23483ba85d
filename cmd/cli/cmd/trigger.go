package cmd

import (
	"os"

	"gridplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger [workflow_file]",
	Short: "Deliver a repository event to the controller",
	Long:  `Send a push or pull_request event together with the workflow document to the controller. When the event matches the workflow triggers, a run starts and its matrix cells are queued for the worker fleet.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the GRIDPLANE_TOKEN environment variable")
			return
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			cmd.Printf("Failed to read workflow: %v\n", err)
			return
		}

		event, err := eventFromFlags(cmd)
		if err != nil {
			cmd.Println(err)
			return
		}

		client := NewRunClient(url, token)
		resp, err := client.TriggerRun(api.TriggerRequest{
			Event:    event,
			Workflow: string(data),
		})
		if err != nil {
			cmd.Printf("Failed to deliver event: %v\n", err)
			return
		}

		if !resp.Triggered {
			cmd.Printf("Event did not trigger a run: %s\n", resp.Reason)
			return
		}

		cmd.Printf("🚀 Run started!\nID: %s\nCells: %d\n", resp.RunID, resp.CellCount)
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	registerEventFlags(triggerCmd)
}
