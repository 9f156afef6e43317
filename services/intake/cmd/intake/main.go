// Command intake runs the manuscript intake API and its analysis workers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"greenlight/services/intake/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Manuscript intake service",
	Long:  "intake accepts manuscript PDFs with a synopsis, analyzes them in the background and serves the results.",
	// plain `intake` behaves like `intake serve`
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath, "Path to the YAML config file")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
