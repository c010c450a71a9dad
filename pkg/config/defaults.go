package config

const (
	defaultProvider       = "xai"
	defaultUpstream       = "https://api.x.ai"
	defaultProxyListen    = ":8080"
	defaultAPIListen      = ":8081"
	defaultRequestTimeout = "10m"

	defaultClientProxyTarget = "http://localhost:8080"
	defaultClientAPITarget   = "http://localhost:8081"
	defaultClientModel       = "grok-3"

	defaultCacheProvider   = "memory"
	defaultCacheMaxEntries = 256
	defaultCacheTTL        = "1h"

	defaultVisionModel      = "grok-2-vision-latest"
	defaultVisionMaxRetries = 2
	defaultVisionBaseDelay  = "1s"

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "relay.turns"
	defaultEventStreamClientID = "relay"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Proxy: ProxyConfig{
			Provider:       defaultProvider,
			Upstream:       defaultUpstream,
			Listen:         defaultProxyListen,
			RequestTimeout: defaultRequestTimeout,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Cache: CacheConfig{
			Provider:   defaultCacheProvider,
			MaxEntries: defaultCacheMaxEntries,
			TTL:        defaultCacheTTL,
		},
		Vision: VisionConfig{
			Model:      defaultVisionModel,
			MaxRetries: defaultVisionMaxRetries,
			BaseDelay:  defaultVisionBaseDelay,
		},
		Client: ClientConfig{
			ProxyTarget: defaultClientProxyTarget,
			APITarget:   defaultClientAPITarget,
			Model:       defaultClientModel,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
			ClientID: defaultEventStreamClientID,
		},
	}
}
