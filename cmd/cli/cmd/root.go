package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gridctl",
	Short: "Gridctl is a command line tool for interacting with the gridplane platform",
	Long: `gridctl is the command-line interface for the GridPlane matrix pipeline runner.

GridPlane runs workflow documents the way a hosted CI service would: a push or
pull_request event is matched against the workflow triggers, each job's matrix
is expanded into cells (one per os/version combination), and every cell runs
the job's step sequence in order. A failing step is final for its cell only;
sibling cells keep running.

Common workflows:

  Validate a workflow document:
    gridctl validate .gridplane/ci.yaml

  Show the cells and effective steps an event would produce:
    gridctl plan .gridplane/ci.yaml --event push --branch master

  Run a workflow locally (no controller needed):
    gridctl run .gridplane/ci.yaml --event push --branch master

  Deliver an event to the controller:
    gridctl trigger .gridplane/ci.yaml --event push --branch master --sha abc123

  Check a run:
    gridctl status <run-id>

  Stream cell logs:
    gridctl logs <cell-id> --follow

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    GRIDPLANE_URL      API endpoint (default: http://localhost:6161)
    GRIDPLANE_TOKEN    Project API key for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".gridctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".gridctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "GRIDPLANE_VARNAME"
	viper.SetEnvPrefix("GRIDPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gridctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "GridPlane Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Project API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
