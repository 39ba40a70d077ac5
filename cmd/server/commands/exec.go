package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"androidssh/internal/classifier"
	"androidssh/internal/ssh"
	"androidssh/internal/tools"

	"github.com/spf13/cobra"
)

var ExecReadOnly = false
var ExecTimeoutSeconds = classifier.DefaultTimeout

var ExecCmd = &cobra.Command{
	Use:   "exec [--read] [--timeout N] -- <command>",
	Short: "Run one command on the device",
	Long: `Run one shell command on the device through the same pipeline the MCP tools use, print its output and exit with its exit code.

With --read the command must be whitelisted (see 'androidssh whitelist'), exactly like the execute_read tool.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req := tools.CommandRequest{
			Command:        strings.Join(args, " "),
			TimeoutSeconds: ExecTimeoutSeconds,
		}

		var res ssh.CommandResult
		var err error

		if ExecReadOnly {
			res, err = dispatcher.ExecuteRead(ctx, req)
		} else {
			res, err = dispatcher.Execute(ctx, req)
		}

		if err != nil {
			printToolError(cmd, err)
			ExitCode = 1
			return
		}

		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)

		if res.Stderr != "" {
			fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
		}

		ExitCode = processExitCode(res.ExitCode)
	},
}

// processExitCode maps a remote exit code onto a valid process status. Signal
// terminations (-1) and out-of-range codes become 1.
func processExitCode(code int) int {
	if code < 0 || code > 255 {
		return 1
	}
	return code
}

func init() {
	ExecCmd.Flags().BoolVar(&ExecReadOnly, "read", false, "Only allow whitelisted read-only commands")
	ExecCmd.Flags().IntVar(&ExecTimeoutSeconds, "timeout", classifier.DefaultTimeout, "Command timeout in seconds (1-300)")
}
