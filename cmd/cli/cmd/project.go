package cmd

import (
	"gridplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new project",
	Long:  `Register a new project and print its API key. The key is shown exactly once; the controller only stores its hash.`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			cmd.Println("Project name is required. Use --name")
			return
		}

		url := viper.GetString("url")
		client := NewRunClient(url, viper.GetString("token"))

		resp, err := client.CreateProject(api.CreateProjectRequest{Name: name})
		if err != nil {
			cmd.Printf("Failed to create project: %v\n", err)
			return
		}

		cmd.Printf("Project created!\nID:   %s\nName: %s\n\n", resp.ID, resp.Name)
		cmd.Printf("API key (save it now, it will not be shown again):\n%s\n", resp.APIKey)
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCreateCmd.Flags().String("name", "", "project name")
}
