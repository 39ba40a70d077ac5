package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"

	"androidssh/internal/settings"
	"androidssh/internal/tools"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func readPasswordSecurely(prompt string, stdOut io.Writer, errOut io.Writer, promptToErr bool) (string, error) {
	// readPasswordSecurely reads a password from the terminal without echoing
	if promptToErr {
		fmt.Fprintf(errOut, "%s", prompt)
	} else {
		fmt.Fprintf(stdOut, "%s", prompt)
	}

	bytePassword, err := term.ReadPassword(int(syscall.Stdin))

	if promptToErr {
		fmt.Fprintf(errOut, "\n")
	} else {
		fmt.Fprintf(stdOut, "\n")
	}

	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// parseSSHURL parses an SSH URL in the format username@hostname:port or username@hostname
// Returns username, hostname, port (8022 when absent), and any error
func parseSSHURL(sshURL string) (username, hostname string, port int, err error) {
	port = settings.DefaultPort

	if strings.Contains(sshURL, ":") {
		parts := strings.Split(sshURL, ":")
		if len(parts) != 2 {
			return "", "", 0, fmt.Errorf("invalid SSH URL format: %s", sshURL)
		}

		if portStr := parts[1]; portStr != "" {
			parsedPort, err := strconv.ParseUint(portStr, 10, 32)

			if err != nil {
				return "", "", 0, fmt.Errorf("invalid port number: %s", portStr)
			}

			if parsedPort < 1 || parsedPort > 65535 {
				return "", "", 0, fmt.Errorf("port number must be between 1 and 65535")
			}

			port = int(parsedPort)
		}

		sshURL = parts[0]
	}

	if strings.Contains(sshURL, "@") {
		parts := strings.Split(sshURL, "@")
		if len(parts) != 2 {
			return "", "", 0, fmt.Errorf("invalid SSH URL format: %s", sshURL)
		}
		username = parts[0]
		hostname = parts[1]
	} else {
		return "", "", 0, fmt.Errorf("username is required in SSH URL format: username@hostname[:port]")
	}

	if username == "" {
		return "", "", 0, fmt.Errorf("username cannot be empty")
	}
	if hostname == "" {
		return "", "", 0, fmt.Errorf("hostname cannot be empty")
	}

	return username, hostname, port, nil
}

func printToolError(cmd *cobra.Command, err error) {
	var te *tools.Error
	if !errors.As(err, &te) {
		cmd.PrintErrf("❌ Error: %s: %v\n", tools.KindOf(err), err)
		return
	}

	cmd.PrintErrf("❌ Error: %v\n", te)

	if te.Hint != "" {
		cmd.PrintErrf("\n%s\n", te.Hint)
	}
}
