package tools

import (
	"testing"

	"androidssh/internal/ssh"
)

func TestFormatResult(t *testing.T) {
	tests := []struct {
		in   ssh.CommandResult
		want string
	}{
		{ssh.CommandResult{}, "✓ Success"},
		{ssh.CommandResult{Stdout: "a\nb\n"}, "a\nb\n\n✓ Success"},
		{ssh.CommandResult{Stdout: "no newline"}, "no newline\n\n✓ Success"},
		{ssh.CommandResult{Stderr: "boom", ExitCode: 3}, "stderr:\nboom\n\n✗ Failed (exit code: 3)"},
		{ssh.CommandResult{Stdout: "out\n", Stderr: "err\n", ExitCode: 1}, "out\n\nstderr:\nerr\n\n✗ Failed (exit code: 1)"},
	}

	for _, tt := range tests {
		if got := FormatResult(tt.in); got != tt.want {
			t.Errorf("FormatResult(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
