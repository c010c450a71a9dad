// Package proxy provides the relay HTTP server: a transparent xAI proxy that
// normalizes multimodal requests before they go upstream and records every
// relayed chat turn in the turn log.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	"github.com/papercomputeco/relay/pkg/content"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/llm/capability"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/proxy/header"
	"github.com/papercomputeco/relay/proxy/worker"
)

// Proxy is the relay server. It forwards requests under upstream.RelayPrefix
// to the upstream provider and enqueues chat turns for async storage via its
// worker pool.
type Proxy struct {
	config        Config
	driver        storage.Driver
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	provider      provider.Provider
	headerHandler *header.Handler
	resolver      *content.Resolver
	gate          *capability.Gate
	metrics       *observe.Metrics
	upstreamBase  string

	mu      sync.RWMutex
	allowed map[string]struct{}
}

// New creates a new Proxy.
// The driver is injected to handle async persistence of relayed turns.
// Returns an error if the configured provider type is not recognized.
func New(config Config, driver storage.Driver, logger *slog.Logger) (*Proxy, error) {
	if driver == nil {
		return nil, errors.New("storage driver is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	prov, err := provider.New(config.ProviderType)
	if err != nil {
		return nil, fmt.Errorf("could not create new provider: %w", err)
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Gate == nil {
		config.Gate = capability.Default()
	}
	if config.Fetcher == nil {
		config.Fetcher = content.NewHTTPFetcher(nil)
	}
	metrics := observe.OrDefault(config.Metrics)

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	// Add compression middleware to handle responses
	app.Use(compress.New())

	wp, err := worker.NewPool(&worker.Config{
		Driver:    driver,
		Publisher: config.Publisher,
		Source:    eventstream.EventSource{Service: "relay", Provider: prov.Name()},
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// Deadlines come from the per-request context so long streams are
		// not cut by a client-wide timeout.
		httpClient = &http.Client{}
	}

	p := &Proxy{
		config:        config,
		driver:        driver,
		workerPool:    wp,
		logger:        logger,
		httpClient:    httpClient,
		server:        app,
		provider:      prov,
		headerHandler: header.NewHandler(config.APIKey),
		resolver: content.NewResolver(config.ImageCache, config.Fetcher,
			content.WithLogger(logger),
			content.WithMetrics(metrics),
		),
		gate:         config.Gate,
		metrics:      metrics,
		upstreamBase: upstream.ResolveBase(config.UpstreamURL),
	}
	p.SetAllowedModels(config.AllowedModels)

	app.Options("/*", p.handleOptions)
	app.Get(upstream.RelayPrefix+content.ProxyImagePath, p.handleProxyImage)
	app.Get(content.ProxyImagePath, p.handleProxyImage)
	app.All(upstream.RelayPrefix+"/*", p.handleRelay)

	return p, nil
}

// SetAllowedModels replaces the model allow-list. An empty list allows every
// model. Safe to call while serving.
func (p *Proxy) SetAllowedModels(models []string) {
	var allowed map[string]struct{}
	for _, m := range models {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if allowed == nil {
			allowed = make(map[string]struct{}, len(models))
		}
		allowed[m] = struct{}{}
	}

	p.mu.Lock()
	p.allowed = allowed
	p.mu.Unlock()
}

func (p *Proxy) modelAllowed(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[strings.ToLower(model)]
	return ok
}

// Run starts the proxy server on the given listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		"listen", p.config.ListenAddr,
		"upstream", p.upstreamBase,
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting proxy server",
		"listen", listener.Addr().String(),
		"upstream", p.upstreamBase,
	)

	return p.server.Listener(listener)
}

// Close gracefully shuts down the proxy and waits for the worker pool to drain
func (p *Proxy) Close() error {
	err := p.server.Shutdown()
	p.workerPool.Close()
	return err
}

func (p *Proxy) handleOptions(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"body": "OK"})
}
