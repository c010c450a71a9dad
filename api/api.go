package api

import (
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papercomputeco/relay/pkg/storage"
)

// Server is the API server for querying the relay's turn log
type Server struct {
	config Config
	driver storage.Driver
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The driver is injected to allow sharing with other components
// (e.g., the proxy writing the turns this server reads).
func NewServer(config Config, driver storage.Driver, logger *slog.Logger) (*Server, error) {
	if driver == nil {
		return nil, errors.New("storage driver is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		driver: driver,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/v1/turns", s.handleListTurns)
	app.Get("/v1/turns/:id", s.handleGetTurn)

	if config.MCPHandler != nil {
		mcpHandler := adaptor.HTTPHandler(config.MCPHandler)
		app.All("/mcp", mcpHandler)
		app.All("/mcp/*", mcpHandler)
	}

	metrics := config.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics))

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the API server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting API server",
		"listen", listener.Addr().String(),
	)
	return s.app.Listener(listener)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
