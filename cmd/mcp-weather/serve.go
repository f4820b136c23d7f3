package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/txn2/mcp-weather/internal/server"
	"github.com/txn2/mcp-weather/pkg/platform"
)

type serveOptions struct {
	transport string
	address   string
	logLevel  string
	logFormat string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cfg, opts)

			logger, err := newLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, p, err := mcpserver.New(cfg)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer func() {
				if cerr := p.Close(); cerr != nil {
					slog.Warn("closing platform failed", "error", cerr)
				}
			}()

			slog.Info("starting mcp-weather",
				"version", cfg.Server.Version,
				"transport", cfg.Server.Transport,
				"database", cfg.Database.Driver,
			)
			return p.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport type: http, stdio (overrides config and MODE)")
	cmd.Flags().StringVar(&opts.address, "address", "", "Listen address for the http transport")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: json, text")
	return cmd
}

func applyServeFlags(cfg *platform.Config, opts serveOptions) {
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
}

// newLogger builds the process logger. Logs always go to w, never stdout,
// so the stdio transport keeps stdout for protocol messages.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
