// Package server provides a factory for creating the MCP weather platform.
package server

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-weather/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// New creates the platform for cfg and returns its MCP server. An empty
// server version is replaced by the build version.
func New(cfg *platform.Config, opts ...platform.Option) (*mcp.Server, *platform.Platform, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = Version
	}

	p, err := platform.New(append([]platform.Option{platform.WithConfig(cfg)}, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating platform: %w", err)
	}
	return p.MCPServer(), p, nil
}

// NewWithConfig loads the config file at path, applies environment
// overrides and creates the platform.
func NewWithConfig(path string, lookup func(string) (string, bool), opts ...platform.Option) (*mcp.Server, *platform.Platform, error) {
	cfg, err := LoadConfig(path, lookup)
	if err != nil {
		return nil, nil, err
	}
	return New(cfg, opts...)
}

// LoadConfig reads path, or the defaults when path is empty, then applies
// environment overrides.
func LoadConfig(path string, lookup func(string) (string, bool)) (*platform.Config, error) {
	cfg := platform.DefaultConfig()
	if path != "" {
		loaded, err := platform.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
