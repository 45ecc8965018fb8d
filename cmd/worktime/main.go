package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/watzon/worktime/internal/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cli.Version())
	},
}

func main() {
	cli.AddCommand(versionCmd)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
