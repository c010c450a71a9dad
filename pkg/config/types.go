package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/relay/pkg/tool/mcptool"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	Proxy       ProxyConfig       `toml:"proxy"`
	API         APIConfig         `toml:"api"`
	Cache       CacheConfig       `toml:"cache"`
	Vision      VisionConfig      `toml:"vision"`
	Client      ClientConfig      `toml:"client"`
	EventStream EventStreamConfig `toml:"eventstream"`
	MCP         MCPConfig         `toml:"mcp"`
}

// StorageConfig selects the turn log backend. PostgresDSN wins over
// SQLitePath; with neither set turns are kept in memory.
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// ProxyConfig holds relay server settings.
type ProxyConfig struct {
	Provider string `toml:"provider,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	Listen   string `toml:"listen,omitempty"`

	// APIKey is the fallback Authorization for requests that carry none.
	APIKey string `toml:"api_key,omitempty"`

	// AllowedModels restricts the models clients may request. Empty allows all.
	AllowedModels []string `toml:"allowed_models,omitempty"`

	// RequestTimeout is a Go duration string, e.g. "10m".
	RequestTimeout string `toml:"request_timeout,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// CacheConfig holds image cache settings.
type CacheConfig struct {
	// Provider is "memory" or "sqlite".
	Provider   string `toml:"provider,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
	MaxEntries int    `toml:"max_entries,omitempty"`
	TTL        string `toml:"ttl,omitempty"`
}

// VisionConfig holds settings for the image description relay.
type VisionConfig struct {
	Model      string `toml:"model,omitempty"`
	MaxRetries int    `toml:"max_retries,omitempty"`
	BaseDelay  string `toml:"base_delay,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to the running
// relay and API servers (e.g. relay chat). Targets are full URLs
// (scheme + host + port).
type ClientConfig struct {
	ProxyTarget string `toml:"proxy_target,omitempty"`
	APITarget   string `toml:"api_target,omitempty"`
	Model       string `toml:"model,omitempty"`
}

// EventStreamConfig holds turn event publishing settings.
type EventStreamConfig struct {
	// Provider is "nop" or "kafka".
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
	ClientID string   `toml:"client_id,omitempty"`
}

// MCPConfig lists the tool servers "relay chat" connects to. Servers are
// edited in config.toml as [[mcp.servers]] tables.
type MCPConfig struct {
	Servers []mcptool.ServerConfig `toml:"servers,omitempty"`
}

// configKey binds a dotted key name to a field of *Config. Keys follow the
// TOML section layout.
type configKey struct {
	name string
	get  func(c *Config) string
	set  func(c *Config, v string) error

	// typed returns the field as its Go value, for viper defaults.
	typed func(c *Config) any
}

func stringKey(name string, field func(c *Config) *string) configKey {
	return configKey{
		name:  name,
		get:   func(c *Config) string { return *field(c) },
		set:   func(c *Config, v string) error { *field(c) = v; return nil },
		typed: func(c *Config) any { return *field(c) },
	}
}

// listKey reads and writes a comma separated list.
func listKey(name string, field func(c *Config) *[]string) configKey {
	return configKey{
		name:  name,
		get:   func(c *Config) string { return strings.Join(*field(c), ",") },
		set:   func(c *Config, v string) error { *field(c) = SplitList(v); return nil },
		typed: func(c *Config) any { return *field(c) },
	}
}

// intKey reports zero as unset.
func intKey(name string, field func(c *Config) *int) configKey {
	return configKey{
		name:  name,
		typed: func(c *Config) any { return *field(c) },
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if n < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", name)
			}
			*field(c) = n
			return nil
		},
	}
}

// durationKey stores the string form after checking it parses.
func durationKey(name string, field func(c *Config) *string) configKey {
	return configKey{
		name:  name,
		get:   func(c *Config) string { return *field(c) },
		typed: func(c *Config) any { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = v
			return nil
		},
	}
}

// keyList is every settable key, in the order "config list" prints them.
var keyList = []configKey{
	stringKey("storage.sqlite_path", func(c *Config) *string { return &c.Storage.SQLitePath }),
	stringKey("storage.postgres_dsn", func(c *Config) *string { return &c.Storage.PostgresDSN }),

	stringKey("proxy.provider", func(c *Config) *string { return &c.Proxy.Provider }),
	stringKey("proxy.upstream", func(c *Config) *string { return &c.Proxy.Upstream }),
	stringKey("proxy.listen", func(c *Config) *string { return &c.Proxy.Listen }),
	stringKey("proxy.api_key", func(c *Config) *string { return &c.Proxy.APIKey }),
	listKey("proxy.allowed_models", func(c *Config) *[]string { return &c.Proxy.AllowedModels }),
	durationKey("proxy.request_timeout", func(c *Config) *string { return &c.Proxy.RequestTimeout }),

	stringKey("api.listen", func(c *Config) *string { return &c.API.Listen }),

	stringKey("cache.provider", func(c *Config) *string { return &c.Cache.Provider }),
	stringKey("cache.sqlite_path", func(c *Config) *string { return &c.Cache.SQLitePath }),
	intKey("cache.max_entries", func(c *Config) *int { return &c.Cache.MaxEntries }),
	durationKey("cache.ttl", func(c *Config) *string { return &c.Cache.TTL }),

	stringKey("vision.model", func(c *Config) *string { return &c.Vision.Model }),
	intKey("vision.max_retries", func(c *Config) *int { return &c.Vision.MaxRetries }),
	durationKey("vision.base_delay", func(c *Config) *string { return &c.Vision.BaseDelay }),

	stringKey("client.proxy_target", func(c *Config) *string { return &c.Client.ProxyTarget }),
	stringKey("client.api_target", func(c *Config) *string { return &c.Client.APITarget }),
	stringKey("client.model", func(c *Config) *string { return &c.Client.Model }),

	stringKey("eventstream.provider", func(c *Config) *string { return &c.EventStream.Provider }),
	listKey("eventstream.brokers", func(c *Config) *[]string { return &c.EventStream.Brokers }),
	stringKey("eventstream.topic", func(c *Config) *string { return &c.EventStream.Topic }),
	stringKey("eventstream.client_id", func(c *Config) *string { return &c.EventStream.ClientID }),
}

var configKeys = func() map[string]configKey {
	m := make(map[string]configKey, len(keyList))
	for _, k := range keyList {
		m[k.name] = k
	}
	return m
}()

// SplitList splits a comma separated value, trimming blanks and dropping
// empty items.
func SplitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
