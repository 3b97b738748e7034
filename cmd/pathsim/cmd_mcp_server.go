package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/pathsim/internal/logging"
	"github.com/nvandessel/pathsim/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout.

The server exposes the pathsim_simulate, pathsim_weights and pathsim_runs
tools. Snapshots must live under the project root (--root) or ~/.pathsim.
Logs go to stderr; stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("failed to resolve project root: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "pathsim",
				Version:  version,
				Root:     absRoot,
				Settings: cfg,
				Logger:   logging.NewLogger(cfg.Logging.Level, os.Stderr),
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			return server.Run(cmd.Context())
		},
	}
}
