package main

import (
	"fmt"

	"github.com/spf13/cobra"

	mcpserver "github.com/txn2/mcp-weather/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcp-weather version %s\n", mcpserver.Version)
		},
	}
}
