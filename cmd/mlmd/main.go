package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mlmd",
	Short: "Commission engine and scheduler of the MLM network",
	// Errors are printed by cobra; usage only for flag mistakes.
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
