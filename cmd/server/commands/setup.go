package commands

import (
	"context"
	"fmt"

	"androidssh/internal/tools"

	"github.com/spf13/cobra"
)

var SetupKeyPath = ""
var SetupAskPassword = false

var SetupCmd = &cobra.Command{
	Use:   "setup [username@hostname[:port]]",
	Short: "Store the device connection settings",
	Long: `Store the device connection settings in the config file. Only the values given are changed; everything else keeps its stored value.

The port defaults to 8022 (Termux sshd) when the address has none. Use --key-path for key authentication (recommended) or --password to be prompted for a password.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var req tools.SetupRequest

		if len(args) > 0 {
			username, hostname, port, err := parseSSHURL(args[0])

			if err != nil {
				cmd.PrintErrf("❌ Error: failed to parse SSH URL '%s': %v\n", args[0], err)
				ExitCode = 1
				return
			}

			req.User = &username
			req.Host = &hostname
			req.Port = &port
		}

		if cmd.Flags().Changed("key-path") {
			req.KeyPath = &SetupKeyPath
		}

		if SetupAskPassword {
			password, err := readPasswordSecurely("🔒 Enter SSH password: ", cmd.OutOrStdout(), cmd.ErrOrStderr(), true)

			if err != nil {
				cmd.PrintErrf("❌ Error: failed to read password: %v\n", err)
				ExitCode = 1
				return
			}

			req.Password = &password
		}

		msg, err := dispatcher.Setup(context.Background(), req)

		if err != nil {
			printToolError(cmd, err)
			ExitCode = 1
			return
		}

		fmt.Fprintln(cmd.OutOrStdout(), msg)
	},
}

func init() {
	SetupCmd.Flags().StringVar(&SetupKeyPath, "key-path", "", "Path to the SSH private key (e.g. ~/.ssh/id_ed25519); empty clears it")
	SetupCmd.Flags().BoolVar(&SetupAskPassword, "password", false, "Prompt for the SSH password")
}
