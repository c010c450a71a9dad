// Package mcptool exposes the tools of MCP servers through a tool.Registry so
// a streamed turn can call them.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/tool"
	"github.com/papercomputeco/relay/pkg/utils"
)

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ServerConfig locates one MCP server: a local command speaking stdio, or a
// streamable HTTP endpoint.
type ServerConfig struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
	URL     string   `toml:"url,omitempty"`
}

// Connect opens a client session to the server described by cfg.
func Connect(ctx context.Context, cfg ServerConfig) (*mcp.ClientSession, error) {
	var transport mcp.Transport
	switch {
	case cfg.Command != "":
		transport = &mcp.CommandTransport{Command: exec.Command(cfg.Command, cfg.Args...)}
	case cfg.URL != "":
		transport = &mcp.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, fmt.Errorf("mcp server %q: command or url is required", cfg.Name)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "relay", Version: utils.Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to mcp server %q: %w", cfg.Name, err)
	}
	return session, nil
}

// Register adds every tool the session lists to reg. When prefix is set,
// registered names become "<prefix>__<tool>" while calls still use the
// server's own name. It returns the number of tools added.
func Register(ctx context.Context, reg *tool.Registry, session *mcp.ClientSession, prefix string) (int, error) {
	n := 0
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return n, fmt.Errorf("listing mcp tools: %w", err)
		}

		params := emptySchema
		if t.InputSchema != nil {
			raw, err := json.Marshal(t.InputSchema)
			if err != nil {
				return n, fmt.Errorf("encoding schema for %s: %w", t.Name, err)
			}
			params = raw
		}

		name := t.Name
		if prefix != "" {
			name = prefix + "__" + t.Name
		}

		if err := reg.Register(llm.NewFunctionTool(name, t.Description, params), caller(session, t.Name)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ConnectAll connects to every server and registers its tools under the
// server name. Servers that fail are logged and skipped. The returned
// function closes every opened session.
func ConnectAll(ctx context.Context, reg *tool.Registry, servers []ServerConfig, logger *slog.Logger) func() error {
	var sessions []*mcp.ClientSession
	for _, cfg := range servers {
		session, err := Connect(ctx, cfg)
		if err != nil {
			logger.Warn("skipping mcp server", "server", cfg.Name, "error", err)
			continue
		}

		n, err := Register(ctx, reg, session, cfg.Name)
		if err != nil {
			logger.Warn("failed to register mcp tools", "server", cfg.Name, "error", err)
		}
		logger.Debug("registered mcp tools", "server", cfg.Name, "count", n)
		sessions = append(sessions, session)
	}

	return func() error {
		var errs []error
		for _, s := range sessions {
			errs = append(errs, s.Close())
		}
		return errors.Join(errs...)
	}
}

func caller(session *mcp.ClientSession, name string) tool.Func {
	return func(ctx context.Context, args map[string]any) (*tool.Result, error) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		})
		if err != nil {
			return nil, err
		}
		return toResult(res), nil
	}
}

func toResult(res *mcp.CallToolResult) *tool.Result {
	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	out := &tool.Result{Status: 200, StatusText: "OK"}
	if res.IsError {
		out.Status = 500
		out.StatusText = "tool error"
	}

	switch {
	case len(texts) > 0:
		out.Data = strings.Join(texts, "\n")
	case res.StructuredContent != nil:
		out.Data = res.StructuredContent
	}
	return out
}
