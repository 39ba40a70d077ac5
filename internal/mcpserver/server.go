// Package mcpserver exposes the tool dispatcher over the Model Context
// Protocol on stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"androidssh/internal/classifier"
	"androidssh/internal/logger"
	"androidssh/internal/templates"
	"androidssh/internal/tools"
	"androidssh/version"

	"github.com/mark3labs/mcp-go/server"
)

const Name = "mcp-android-ssh"

type Server struct {
	dispatcher *tools.Dispatcher
	mcpServer  *server.MCPServer
}

func New(dispatcher *tools.Dispatcher) (*Server, error) {
	instructions, err := Instructions(dispatcher.Classifier())
	if err != nil {
		return nil, err
	}

	s := &Server{
		dispatcher: dispatcher,
		mcpServer: server.NewMCPServer(
			Name,
			version.Version,
			server.WithToolCapabilities(false),
			server.WithInstructions(instructions),
		),
	}

	s.registerTools()

	return s, nil
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logger.Info("Serving %s %s on stdio", Name, version.Version)

	err := server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server stopped: %w", err)
	}

	return nil
}

// Instructions renders the server instructions, including the whitelist.
func Instructions(c *classifier.Classifier) (string, error) {
	groups := make([]map[string]interface{}, 0)

	for _, g := range c.Groups() {
		groups = append(groups, map[string]interface{}{
			"name":     g.Name,
			"commands": strings.Join(g.Commands, ", "),
		})
	}

	return templates.Render(templates.Instructions, map[string]interface{}{
		"total":          c.Len(),
		"groups":         groups,
		"minTimeout":     classifier.MinTimeout,
		"maxTimeout":     classifier.MaxTimeout,
		"defaultTimeout": classifier.DefaultTimeout,
	})
}
