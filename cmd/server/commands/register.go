package commands

import (
	"androidssh/internal/classifier"
	"androidssh/internal/settings"
	"androidssh/internal/ssh"
	"androidssh/internal/tools"

	"github.com/spf13/cobra"
)

var (
	settingsStore  *settings.Store
	sessionManager *ssh.Manager
	dispatcher     *tools.Dispatcher
)

// ExitCode is the process exit status requested by the last command.
var ExitCode = 0

func RegisterCommands(rootCmd *cobra.Command, store *settings.Store, manager *ssh.Manager) {
	settingsStore = store
	sessionManager = manager
	dispatcher = tools.New(classifier.Default(), manager, store)

	rootCmd.PersistentFlags().String("config", store.Path(), "Path to the config file (overrides ANDROID_SSH_CONFIG)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if flag := cmd.Flags().Lookup("config"); flag != nil && flag.Changed {
			settingsStore.SetPath(settings.ExpandHome(flag.Value.String()))
		}
	}

	if rootCmd.Run == nil {
		rootCmd.Run = ServeCmd.Run
	}

	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(ExecCmd)
	rootCmd.AddCommand(SetupCmd)
	rootCmd.AddCommand(StatusCmd)
	rootCmd.AddCommand(WhitelistCmd)
}
