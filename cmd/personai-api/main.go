// Command personai-api serves the conversation-turn API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "personai-api",
		Short:         "Reflective mentor conversation API",
		Version:       version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newPhasesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
