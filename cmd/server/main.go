package main

import (
	"fmt"
	"os"

	"androidssh/cmd/server/commands"
	"androidssh/cmd/server/config"
	"androidssh/internal/logger"
	"androidssh/internal/settings"
	"androidssh/internal/ssh"
	"androidssh/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "androidssh",
	Short: "MCP server for running shell commands on an Android device over SSH",
	Long: `androidssh lets an AI assistant run shell commands on an Android device (Termux sshd) over SSH, speaking the Model Context Protocol on stdio.

Three tools are exposed:

- execute_read – runs whitelisted read-only commands (ls, cat, ps, df, ...)
- execute      – runs any command, including ones that modify the device
- setup        – stores the connection settings (host, port, user, key or password)

Quick start:

1. In Termux: pkg install openssh && sshd
2. Store the connection settings:

androidssh setup u0_a555@192.168.1.100:8022 --key-path ~/.ssh/id_ed25519

3. Register androidssh as a stdio MCP server in your client (running it without arguments serves MCP).

Settings are read from the config file and ANDROID_SSH_* environment variables, which take precedence. Changes are picked up on the next command without a restart.
`,
	Version: fmt.Sprintf("%s (commit: %s, date: %s, arch: %s, os: %s, package: %s); config path: %s", version.Version, version.Commit, version.Date, version.Arch, version.OS, version.Package, config.Config.SettingsPath),
}

func main() {
	level, err := logger.ParseLevel(config.Config.LogLevel)
	if err != nil {
		logger.Warn("%v", err)
	}
	logger.SetLevel(level)

	store := settings.NewStore(config.Config.SettingsPath)

	manager := ssh.NewManager(store)
	manager.OnEvent(ssh.LogEvents)

	commands.RegisterCommands(rootCmd, store, manager)

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("%v\n", err)
		commands.ExitCode = 1
	}

	manager.Disconnect()

	os.Exit(commands.ExitCode)
}
