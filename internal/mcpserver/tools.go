package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"androidssh/internal/classifier"
	"androidssh/internal/logger"
	"androidssh/internal/settings"
	"androidssh/internal/ssh"
	"androidssh/internal/tools"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(executeReadTool(s.dispatcher.Classifier().Len()), s.handleExecuteRead)
	s.mcpServer.AddTool(executeTool(), s.handleExecute)
	s.mcpServer.AddTool(setupTool(), s.handleSetup)
}

func timeoutDescription() string {
	return fmt.Sprintf("Command timeout in seconds (default: %d, max: %d)", classifier.DefaultTimeout, classifier.MaxTimeout)
}

func executeReadTool(whitelisted int) mcp.Tool {
	return mcp.NewTool("execute_read",
		mcp.WithDescription(fmt.Sprintf("Execute safe read-only shell commands on Android via SSH (%d whitelisted commands)", whitelisted)),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The shell command to execute"),
		),
		mcp.WithNumber("timeout",
			mcp.Description(timeoutDescription()),
		),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("execute",
		mcp.WithDescription("Execute any shell command on Android via SSH, including write/modify/delete operations"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The shell command to execute"),
		),
		mcp.WithNumber("timeout",
			mcp.Description(timeoutDescription()),
		),
	)
}

func setupTool() mcp.Tool {
	return mcp.NewTool("setup",
		mcp.WithDescription("Configure Android SSH connection - provide credentials to connect to your Android device"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("host",
			mcp.Description("Android device IP address (e.g., 192.168.1.100)"),
		),
		mcp.WithNumber("port",
			mcp.Description(fmt.Sprintf("SSH port (default: %d for Termux)", settings.DefaultPort)),
		),
		mcp.WithString("user",
			mcp.Description("Termux username (run 'whoami' in Termux)"),
		),
		mcp.WithString("key_path",
			mcp.Description("Path to SSH private key (recommended, e.g., ~/.ssh/id_ed25519)"),
		),
		mcp.WithString("password",
			mcp.Description("SSH password (alternative to key_path, not recommended)"),
		),
	)
}

// intArg reads an optional whole-number argument. Fractions and
// non-numeric values are rejected rather than truncated.
func intArg(req mcp.CallToolRequest, key string, def int) (int, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return def, nil
	}

	invalid := &tools.Error{
		Kind:    tools.KindValidation,
		Message: fmt.Sprintf("%s must be a whole number, got %s", key, logger.Sanitize(fmt.Sprint(raw))),
	}

	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, invalid
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, invalid
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, invalid
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid
		}
		return n, nil
	default:
		return 0, invalid
	}
}

func commandRequest(req mcp.CallToolRequest) (tools.CommandRequest, error) {
	timeout, err := intArg(req, "timeout", classifier.DefaultTimeout)
	if err != nil {
		return tools.CommandRequest{}, err
	}

	return tools.CommandRequest{
		Command:        mcp.ParseString(req, "command", ""),
		TimeoutSeconds: timeout,
	}, nil
}

func (s *Server) handleExecuteRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cr, err := commandRequest(req)
	if err != nil {
		return errorResult(err), nil
	}

	res, err := s.dispatcher.ExecuteRead(ctx, cr)
	return commandResult(res, err), nil
}

func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cr, err := commandRequest(req)
	if err != nil {
		return errorResult(err), nil
	}

	res, err := s.dispatcher.Execute(ctx, cr)
	return commandResult(res, err), nil
}

func (s *Server) handleSetup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var setup tools.SetupRequest

	optString := func(key string) *string {
		if _, ok := args[key]; !ok {
			return nil
		}
		v := mcp.ParseString(req, key, "")
		return &v
	}

	setup.Host = optString("host")
	setup.User = optString("user")
	setup.KeyPath = optString("key_path")
	setup.Password = optString("password")

	if _, ok := args["port"]; ok {
		port, err := intArg(req, "port", 0)
		if err != nil {
			return errorResult(err), nil
		}
		setup.Port = &port
	}

	msg, err := s.dispatcher.Setup(ctx, setup)
	if err != nil {
		return errorResult(err), nil
	}

	return mcp.NewToolResultText(msg), nil
}

func commandResult(res ssh.CommandResult, err error) *mcp.CallToolResult {
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(tools.FormatResult(res))
}

func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()

	var te *tools.Error
	if errors.As(err, &te) {
		logger.Debug("Tool failed (%s): %s", te.Kind, logger.Sanitize(text))
		if te.Hint != "" {
			text += "\n\n" + te.Hint
		}
	} else {
		text = fmt.Sprintf("%s: %s", tools.KindOf(err), text)
	}

	return mcp.NewToolResultError(text)
}
