package tools

import (
	"context"
	"errors"
	"fmt"

	"androidssh/internal/classifier"
	"androidssh/internal/settings"
	"androidssh/internal/ssh"
)

// Kind is the stable, machine-readable error category reported to callers.
type Kind string

const (
	KindConfig         Kind = "config_error"
	KindConnection     Kind = "connection_error"
	KindAuth           Kind = "auth_error"
	KindTimeout        Kind = "timeout_error"
	KindNotWhitelisted Kind = "not_whitelisted"
	KindValidation     Kind = "validation_error"
	KindExecution      Kind = "execution_error"
	// KindCancelled means the caller gave up; the session is left as it was.
	KindCancelled Kind = "cancelled"
)

// Error is returned by every Dispatcher operation that fails.
type Error struct {
	Kind    Kind
	Command string
	Message string
	// Hint is optional multi-line guidance for the user.
	Hint string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindExecution when err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ssh.ErrAuth):
		return KindAuth
	case errors.Is(err, ssh.ErrConfig), errors.Is(err, settings.ErrNotConfigured):
		return KindConfig
	case errors.Is(err, ssh.ErrConnection):
		return KindConnection
	case errors.Is(err, ssh.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, classifier.ErrEmptyCommand),
		errors.Is(err, classifier.ErrTimeoutOutOfRange),
		errors.Is(err, settings.ErrInvalid):
		return KindValidation
	default:
		return KindExecution
	}
}
