package main

import (
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "slotctl",
	Short:        "Compute free meeting slots offline",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(initComputeCMD())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
