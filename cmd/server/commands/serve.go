package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"androidssh/internal/logger"
	"androidssh/internal/mcpserver"
	"androidssh/internal/settings"

	"github.com/spf13/cobra"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP on stdio",
	Long:  `Serve the execute_read, execute and setup tools over the Model Context Protocol on stdin/stdout. This is the default when androidssh is run without a subcommand. Logs go to stderr.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		if created, err := settingsStore.EnsureFile(); err != nil {
			logger.Warn("Could not create config template: %v", err)
		} else if created {
			logger.Info("Edit %s or call the setup tool to configure the device connection", settingsStore.Path())
		}

		if cfg, _, err := settingsStore.Snapshot(); err != nil {
			logger.Warn("Config is not usable yet: %v", err)
		} else if err := cfg.Validate(); errors.Is(err, settings.ErrNotConfigured) {
			logger.Warn("Device connection is not configured yet (%v); tools will ask for setup", err)
		} else if err != nil {
			logger.Warn("Device connection settings are invalid: %v", err)
		}

		server, err := mcpserver.New(dispatcher)
		if err != nil {
			cmd.PrintErrf("❌ Error: %v\n", err)
			ExitCode = 1
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			cmd.PrintErrf("❌ Error: %v\n", err)
			ExitCode = 1
		}

		sessionManager.Disconnect()
	},
}
