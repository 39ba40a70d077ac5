package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var StatusConnect = false

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection settings and test the connection",
	Long:  `Show the effective connection settings (config file overlaid with ANDROID_SSH_* variables). With --connect, also open an SSH session and report its state.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "📄 Config file: %s\n", settingsStore.Path())

		cfg, revision, err := settingsStore.Snapshot()
		if err != nil {
			cmd.PrintErrf("❌ Error: %v\n", err)
			ExitCode = 1
			return
		}

		fmt.Fprintf(out, "🖥️  Host: %s\n", cfg.Address())
		fmt.Fprintf(out, "👤 User: %s\n", cfg.User)
		fmt.Fprintf(out, "🔑 Auth: %s\n", cfg.AuthMethod())
		fmt.Fprintf(out, "🔢 Settings revision: %d\n", revision)

		if err := cfg.Validate(); err != nil {
			cmd.PrintErrf("❌ Not ready: %v\n", err)
			ExitCode = 1
			return
		}

		if !StatusConnect {
			fmt.Fprintf(out, "✅ Settings are complete (use --connect to test the connection)\n")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := sessionManager.Connect(ctx); err != nil {
			printToolError(cmd, err)
			ExitCode = 1
			return
		}

		status := sessionManager.Status()

		fmt.Fprintf(out, "✅ Session %s: %s (retries: %d)\n", status.SessionID, status.State, status.Retries)

		for _, t := range sessionManager.Transitions() {
			fmt.Fprintf(out, "   %s  %s -> %s (%s)\n", t.At.Format(time.RFC3339), t.From, t.To, t.Reason)
		}
	},
}

func init() {
	StatusCmd.Flags().BoolVar(&StatusConnect, "connect", false, "Open an SSH session to verify the settings")
}
