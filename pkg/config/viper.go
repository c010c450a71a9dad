package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/dotdir"
)

// InitViper returns a viper instance over config.toml in the resolved
// .relay/ directory. Later sources override earlier ones: defaults,
// config.toml, RELAY_* environment variables (RELAY_PROXY_API_KEY for
// proxy.api_key), then flags bound with BindRegisteredFlags.
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	target, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(target)

	if err := v.ReadInConfig(); err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers every key of NewDefaultConfig, so viper and
// config.toml share one set of defaults.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	v.SetDefault("version", d.Version)
	for _, k := range keyList {
		v.SetDefault(k.name, k.typed(d))
	}
}

// StringList reads a list key that may come from config.toml as an array or
// from the environment as a comma separated string.
func StringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		out = append(out, SplitList(item)...)
	}
	return out
}
