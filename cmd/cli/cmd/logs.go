package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var follow bool

var logsCmd = &cobra.Command{
	Use:   "logs [cell_id]",
	Short: "Stream logs for a cell",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cellID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the GRIDPLANE_TOKEN environment variable")
			return
		}

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			os.Exit(0)
		}()

		client := NewRunClient(url, token)
		var lastID int64 = 0

		for {
			newLogs, err := client.GetLogs(cellID, lastID)
			if err != nil {
				cmd.Printf("Error fetching logs: %v\n", err)
				if !follow {
					break
				}
				time.Sleep(2 * time.Second) // Retry backoff
				continue
			}

			for _, log := range newLogs {
				cmd.Print(log.Content)
				if len(log.Content) > 0 && log.Content[len(log.Content)-1] != '\n' {
					cmd.Println()
				}

				if log.ID > lastID {
					lastID = log.ID
				}
			}

			if !follow {
				// Caught up once the server returns an empty page.
				if len(newLogs) == 0 {
					break
				}
				continue
			}

			time.Sleep(1 * time.Second)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
}
