// Package main provides the entry point for the mcp-weather server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcp-weather",
		Short: "MCP weather tool server with durable, tenant-isolated sessions",
		Long: `mcp-weather serves the getCurrentWeather MCP tool over Streamable HTTP
or stdio. HTTP sessions are persisted, owned by the authenticated tenant,
expired after inactivity and swept periodically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newTenantCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
