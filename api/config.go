// Package api provides an HTTP API server for inspecting the relay's turn log.
// The same server mounts the MCP endpoint and the Prometheus scrape endpoint.
package api

import (
	"net/http"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler

	// MetricsHandler is mounted at /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
}
