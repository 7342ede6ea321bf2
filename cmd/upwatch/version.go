package main

import (
	"fmt"
	"runtime"

	"upwatch/internal/app"

	"github.com/spf13/cobra"
)

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the upwatch version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "upwatch %s (%s)\n", app.Version, runtime.Version())
		},
	}
}
