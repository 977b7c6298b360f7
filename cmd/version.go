package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the fieldsync version",
	GroupID: "system",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fieldsync %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
