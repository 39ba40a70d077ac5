package tools

import (
	"fmt"
	"strings"

	"androidssh/internal/ssh"
)

// FormatResult renders a command result as text: stdout, then a "stderr:"
// section, then a status line.
func FormatResult(r ssh.CommandResult) string {
	var b strings.Builder

	if r.Stdout != "" {
		b.WriteString(r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			b.WriteByte('\n')
		}
	}

	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("stderr:\n")
		b.WriteString(r.Stderr)
		if !strings.HasSuffix(r.Stderr, "\n") {
			b.WriteByte('\n')
		}
	}

	if b.Len() > 0 {
		b.WriteByte('\n')
	}

	if r.ExitCode == 0 {
		b.WriteString("✓ Success")
	} else {
		fmt.Fprintf(&b, "✗ Failed (exit code: %d)", r.ExitCode)
	}

	return b.String()
}
