// Package main is the entry point for gridctl, the developer terminal tool
// for validating, running and triggering workflows.
package main

import (
	"os"

	"gridplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
