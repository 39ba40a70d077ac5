package ssh

import "errors"

// Session errors. Callers classify with errors.Is.
var (
	ErrConfig     = errors.New("ssh configuration error")
	ErrConnection = errors.New("ssh connection failed")
	ErrAuth       = errors.New("ssh authentication failed")
	ErrTimeout    = errors.New("command timed out")
	ErrExecution  = errors.New("command execution failed")
)
