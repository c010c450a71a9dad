// Package servecmder provides the serve command, which runs the relay and the
// API server together over one turn log.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/api"
	mcpserver "github.com/papercomputeco/relay/api/mcp"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/content"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/pkg/utils"
	"github.com/papercomputeco/relay/pkg/vision"
	"github.com/papercomputeco/relay/proxy"
)

type ServeCommander struct {
	proxyListen   string
	apiListen     string
	upstream      string
	providerType  string
	apiKey        string
	allowedModels string
	sqlitePath    string
	postgresDSN   string
	cacheProvider string
	cacheSQLite   string
	visionModel   string
	kafkaBrokers  string
	kafkaTopic    string

	logFormat string
	logFile   string

	debug  bool
	v      *viper.Viper
	logger *slog.Logger
}

const serveLongDesc string = `Run the relay and the API server.

The relay listens on --proxy-listen and forwards /api/xai/* to the upstream
provider. Chat completion requests are checked against the model allow-list,
their image references are made embeddable, and every turn is recorded.

The API server listens on --api-listen and serves the turn log (/v1/turns),
the MCP tool server (/mcp), and Prometheus metrics (/metrics).

Changes to proxy.allowed_models in config.toml apply without a restart.

Examples:
  relay serve
  relay serve --api-key $XAI_API_KEY --allowed-models grok-3,grok-3-mini
  relay serve --sqlite ~/.relay/relay.db --cache-provider sqlite`

const serveShortDesc string = "Run the relay and API servers"

var serveFlagKeys = []string{
	config.FlagProxyListen,
	config.FlagAPIListen,
	config.FlagUpstream,
	config.FlagProvider,
	config.FlagAPIKey,
	config.FlagAllowedModels,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagCacheProvider,
	config.FlagCacheSQLite,
	config.FlagVisionModel,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)
			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagProxyListen, &cmder.proxyListen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagProvider, &cmder.providerType)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAllowedModels, &cmder.allowedModels)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagCacheProvider, &cmder.cacheProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagCacheSQLite, &cmder.cacheSQLite)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVisionModel, &cmder.visionModel)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	cmd.Flags().StringVar(&cmder.logFormat, "log-format", "pretty", "Console log format: pretty, text, or json")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, closeLog, err := c.newLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	c.logger = log
	v := c.v

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: utils.Version,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	metrics := observe.DefaultMetrics()

	driver, err := newStorageDriver(ctx, v, c.logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	cache, err := newImageCache(v, c.logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	publisher, err := newPublisher(v, c.logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	providerType := v.GetString("proxy.provider")
	prov, err := provider.New(providerType)
	if err != nil {
		return err
	}

	upstreamURL := v.GetString("proxy.upstream")
	apiKey := v.GetString("proxy.api_key")
	fetcher := content.NewHTTPFetcher(nil)

	visionRelay := vision.New(vision.Config{
		Client: upstream.New(upstream.Config{
			BaseURL: upstreamURL,
			APIKey:  apiKey,
			Logger:  c.logger,
			Metrics: metrics,
		}),
		Parser:     prov,
		Model:      v.GetString("vision.model"),
		MaxRetries: v.GetInt("vision.max_retries"),
		BaseDelay:  config.Duration(v.GetString("vision.base_delay"), vision.DefaultBaseDelay),
		Logger:     c.logger,
		Metrics:    metrics,
	})

	mcpServer, err := mcpserver.NewServer(mcpserver.Config{
		Driver:    driver,
		Describer: visionRelay,
		Resolver:  content.NewResolver(cache, fetcher, content.WithLogger(c.logger), content.WithMetrics(metrics)),
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	p, err := proxy.New(proxy.Config{
		ListenAddr:     v.GetString("proxy.listen"),
		UpstreamURL:    upstreamURL,
		ProviderType:   providerType,
		APIKey:         apiKey,
		AllowedModels:  config.StringList(v, "proxy.allowed_models"),
		RequestTimeout: config.Duration(v.GetString("proxy.request_timeout"), proxy.DefaultRequestTimeout),
		ImageCache:     cache,
		Fetcher:        fetcher,
		Publisher:      publisher,
		Metrics:        metrics,
	}, driver, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}
	defer p.Close()

	apiServer, err := api.NewServer(api.Config{
		ListenAddr: v.GetString("api.listen"),
		MCPHandler: mcpServer.Handler(),
	}, driver, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	defer func() { _ = apiServer.Shutdown() }()

	c.watchAllowedModels(p)

	errChan := make(chan error, 2)

	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("proxy error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
		return nil
	}
}

// watchAllowedModels reloads the model allow-list when config.toml changes.
// Flags and environment variables still take precedence over the file.
func (c *ServeCommander) watchAllowedModels(p *proxy.Proxy) {
	if c.v.ConfigFileUsed() == "" {
		return
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		models := config.StringList(c.v, "proxy.allowed_models")
		p.SetAllowedModels(models)
		c.logger.Info("reloaded allowed models",
			"file", e.Name,
			"models", models,
		)
	})
	c.v.WatchConfig()
}

// newLogger builds the console logger, fanned out to a JSON log file when
// --log-file is set.
func (c *ServeCommander) newLogger() (*slog.Logger, func(), error) {
	format, ok := logger.ParseFormat(c.logFormat)
	if !ok {
		return nil, nil, fmt.Errorf("unknown log format %q (available: pretty, text, json)", c.logFormat)
	}
	console := logger.New(logger.WithDebug(c.debug), logger.WithFormat(format))
	if c.logFile == "" {
		return console, func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	file := logger.New(logger.WithDebug(c.debug), logger.WithFormat(logger.FormatJSON), logger.WithWriter(f))
	return logger.Multi(console, file), func() { _ = f.Close() }, nil
}
