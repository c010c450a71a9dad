// Package mcp provides an MCP (Model Context Protocol) server exposing the
// relay's vision relay and turn log as tools.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/utils"
)

// Describer describes the images of the last message.
type Describer interface {
	Describe(ctx context.Context, messages []llm.Message) (string, error)
}

// ImageResolver turns an image URL into an embeddable data-URI.
type ImageResolver interface {
	ResolveURL(ctx context.Context, rawURL string) (string, error)
}

type Config struct {
	// Driver is the turn log read by recent_turns
	Driver storage.Driver

	// Describer answers describe_image (optional, enables the tool)
	Describer Describer

	// Resolver fetches images for describe_image. Without one, URLs are
	// passed to the vision model as given.
	Resolver ImageResolver

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the turn log tool, and the
// describe_image tool when a Describer is configured.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	// Create the MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "relay",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)
	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	if c.Noop {
		// return the empty MCP server with no tools configured
		// if the noop flag is set (i.e., MCP capabilities are disabled)
		return s, nil
	}

	if c.Driver == nil {
		return nil, errors.New("storage driver is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        recentTurnsToolName,
		Description: recentTurnsDescription,
	}, s.handleRecentTurns)

	if c.Describer != nil {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        describeImageToolName,
			Description: describeImageDescription,
		}, s.handleDescribeImage)
	}

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
