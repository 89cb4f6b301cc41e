package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	CaresyncVersion, CaresyncCommit, CaresyncDate string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Display version, commit hash, build date, and other build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CareSync version: %s\n", CaresyncVersion)
		fmt.Printf("Commit: %s\n", CaresyncCommit)
		fmt.Printf("Built: %s\n", CaresyncDate)
	},
}

func init() {
	rootCommand.AddCommand(versionCommand)
}
