package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/relay/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Configer reads and writes one config.toml.
type Configer struct {
	targetPath string
}

// NewConfiger resolves config.toml under the .relay/ directory chosen by
// dotdir. The file need not exist yet.
func NewConfiger(override string) (*Configer, error) {
	path, err := dotdir.NewManager().Path(override, configFile)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return &Configer{targetPath: path}, nil
}

// ValidConfigKeys returns every supported key in TOML section order.
func ValidConfigKeys() []string {
	keys := make([]string, len(keyList))
	for i, k := range keyList {
		keys[i] = k.name
	}
	return keys
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

// GetTarget returns the path of the config file.
func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig reads config.toml and fills every unset field from
// NewDefaultConfig. A missing file yields the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued fields of cfg. Lists, secrets and storage
// paths have no default and stay empty.
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}

	fill(&cfg.Proxy.Provider, defaults.Proxy.Provider)
	fill(&cfg.Proxy.Upstream, defaults.Proxy.Upstream)
	fill(&cfg.Proxy.Listen, defaults.Proxy.Listen)
	fill(&cfg.Proxy.RequestTimeout, defaults.Proxy.RequestTimeout)

	fill(&cfg.API.Listen, defaults.API.Listen)

	fill(&cfg.Cache.Provider, defaults.Cache.Provider)
	fill(&cfg.Cache.TTL, defaults.Cache.TTL)
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = defaults.Cache.MaxEntries
	}

	fill(&cfg.Vision.Model, defaults.Vision.Model)
	fill(&cfg.Vision.BaseDelay, defaults.Vision.BaseDelay)
	if cfg.Vision.MaxRetries == 0 {
		cfg.Vision.MaxRetries = defaults.Vision.MaxRetries
	}

	fill(&cfg.Client.ProxyTarget, defaults.Client.ProxyTarget)
	fill(&cfg.Client.APITarget, defaults.Client.APITarget)
	fill(&cfg.Client.Model, defaults.Client.Model)

	fill(&cfg.EventStream.Provider, defaults.EventStream.Provider)
	fill(&cfg.EventStream.Topic, defaults.EventStream.Topic)
	fill(&cfg.EventStream.ClientID, defaults.EventStream.ClientID)
}

// SaveConfig persists the configuration to config.toml in the target .relay/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	k, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := k.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	k, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return k.get(cfg), nil
}

// PresetConfig returns a Config with sane defaults for the named provider preset.
// Supported presets: "xai", "openai".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	switch strings.ToLower(name) {
	case "xai":
		return NewDefaultConfig(), nil

	case "openai":
		cfg := NewDefaultConfig()
		cfg.Proxy.Provider = "openai"
		cfg.Proxy.Upstream = "https://api.openai.com"
		cfg.Client.Model = "gpt-4o"
		cfg.Vision.Model = "gpt-4o"
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: xai, openai)", name)
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"xai", "openai"}
}

// Duration parses a configured duration string, returning def when it is
// empty or invalid.
func Duration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentConfigVersion.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
