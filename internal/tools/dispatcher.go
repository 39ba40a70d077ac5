// Package tools implements the three operations exposed to clients:
// execute_read, execute and setup.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"androidssh/internal/classifier"
	"androidssh/internal/logger"
	"androidssh/internal/settings"
	"androidssh/internal/ssh"
	"androidssh/internal/templates"
)

// Executor runs commands on the device.
type Executor interface {
	EnsureConnected(ctx context.Context) error
	Execute(ctx context.Context, command string, timeout time.Duration) (ssh.CommandResult, error)
}

// SettingsEditor persists connection settings.
type SettingsEditor interface {
	Path() string
	LoadFile() (settings.Settings, bool, error)
	Save(settings.Settings) error
}

type CommandRequest struct {
	Command        string
	TimeoutSeconds int
}

// SetupRequest is a partial update. Nil fields keep their stored value.
type SetupRequest struct {
	Host     *string
	Port     *int
	User     *string
	KeyPath  *string
	Password *string
}

type Dispatcher struct {
	classifier *classifier.Classifier
	executor   Executor
	store      SettingsEditor
}

func New(c *classifier.Classifier, executor Executor, store SettingsEditor) *Dispatcher {
	return &Dispatcher{
		classifier: c,
		executor:   executor,
		store:      store,
	}
}

func (d *Dispatcher) Classifier() *classifier.Classifier {
	return d.classifier
}

// ExecuteRead runs a whitelisted command. A command that is not whitelisted is
// rejected before any connection activity.
func (d *Dispatcher) ExecuteRead(ctx context.Context, req CommandRequest) (ssh.CommandResult, error) {
	if err := classifier.ValidateCommand(req.Command); err != nil {
		return ssh.CommandResult{}, d.fail(KindValidation, req.Command, err)
	}

	if d.classifier.Classify(req.Command) != classifier.ReadOnly {
		name := classifier.FirstToken(req.Command)

		logger.Info("Rejected non-whitelisted command for execute_read: %s", logger.Sanitize(name))

		return ssh.CommandResult{}, &Error{
			Kind:    KindNotWhitelisted,
			Command: name,
			Message: fmt.Sprintf("Command '%s' is not whitelisted as read-only. Use the execute tool instead.", name),
		}
	}

	return d.run(ctx, req)
}

// Execute runs any command.
func (d *Dispatcher) Execute(ctx context.Context, req CommandRequest) (ssh.CommandResult, error) {
	if err := classifier.ValidateCommand(req.Command); err != nil {
		return ssh.CommandResult{}, d.fail(KindValidation, req.Command, err)
	}

	return d.run(ctx, req)
}

func (d *Dispatcher) run(ctx context.Context, req CommandRequest) (ssh.CommandResult, error) {
	if err := classifier.ValidateTimeout(req.TimeoutSeconds); err != nil {
		return ssh.CommandResult{}, d.fail(KindValidation, req.Command, err)
	}

	if err := d.executor.EnsureConnected(ctx); err != nil {
		return ssh.CommandResult{}, d.wrap(req.Command, err)
	}

	result, err := d.executor.Execute(ctx, req.Command, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		return ssh.CommandResult{}, d.wrap(req.Command, err)
	}

	return result, nil
}

func (d *Dispatcher) wrap(command string, err error) error {
	return d.fail(classify(err), command, err)
}

func (d *Dispatcher) fail(kind Kind, command string, err error) *Error {
	e := &Error{
		Kind:    kind,
		Command: classifier.FirstToken(command),
		Err:     err,
	}

	if kind == KindConfig {
		e.Hint = d.firstRunHint(err)
	}

	return e
}

func (d *Dispatcher) firstRunHint(err error) string {
	hint, renderErr := templates.Render(templates.FirstRun, map[string]interface{}{
		"path":        d.store.Path(),
		"reason":      err.Error(),
		"defaultPort": settings.DefaultPort,
		"envPrefix":   settings.EnvPrefix,
	})

	if renderErr != nil {
		logger.Error("Failed to render setup guidance: %v", renderErr)
		return ""
	}

	return hint
}

// Setup merges req into the stored settings and saves them when complete. It
// never touches the connection; the new revision is picked up on next use.
func (d *Dispatcher) Setup(ctx context.Context, req SetupRequest) (string, error) {
	current, _, err := d.store.LoadFile()
	if err != nil {
		return "", &Error{Kind: classify(err), Message: fmt.Sprintf("failed to read %s: %v", d.store.Path(), err), Err: err}
	}

	if req.Host != nil {
		current.Host = strings.TrimSpace(*req.Host)
	}

	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			return "", &Error{
				Kind:    KindValidation,
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", *req.Port),
				Err:     settings.ErrInvalid,
			}
		}
		current.Port = *req.Port
	}

	if req.User != nil {
		current.User = strings.TrimSpace(*req.User)
	}

	if req.KeyPath != nil {
		current.KeyPath = strings.TrimSpace(*req.KeyPath)
	}

	if req.Password != nil {
		current.Password = *req.Password
	}

	if current.Port == 0 {
		current.Port = settings.DefaultPort
	}

	if missing := current.Missing(); len(missing) > 0 {
		return "", d.incomplete(current, missing)
	}

	if err := d.store.Save(current); err != nil {
		return "", &Error{Kind: classify(err), Message: fmt.Sprintf("failed to save config: %v", err), Err: err}
	}

	return templates.Render(templates.SetupSaved, map[string]interface{}{
		"path": d.store.Path(),
		"host": current.Host,
		"port": current.Port,
		"user": current.User,
		"auth": current.AuthMethod(),
	})
}

func (d *Dispatcher) incomplete(current settings.Settings, missing []string) error {
	has := func(name string) bool {
		for _, m := range missing {
			if m == name {
				return true
			}
		}
		return false
	}

	text, err := templates.Render(templates.SetupIncomplete, map[string]interface{}{
		"missingHost": has("host"),
		"missingUser": has("user"),
		"missingAuth": has("key_path or password"),
		"defaultPort": settings.DefaultPort,
		"host":        current.Host,
		"user":        current.User,
		"keyPath":     current.KeyPath,
		"hasPassword": current.Password != "",
	})

	if err != nil {
		logger.Error("Failed to render setup guidance: %v", err)
	}

	return &Error{
		Kind:    KindConfig,
		Message: "setup incomplete, missing " + strings.Join(missing, ", "),
		Hint:    text,
		Err:     settings.ErrNotConfigured,
	}
}
