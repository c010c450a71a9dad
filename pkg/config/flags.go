package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --upstream
// on both "relay serve" and "relay chat").
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "proxy.upstream").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag and BindRegisteredFlags
// to avoid typos or drift from one command to another.
const (
	FlagProxyListen   = "proxy-listen"
	FlagAPIListen     = "api-listen"
	FlagUpstream      = "upstream"
	FlagProvider      = "provider"
	FlagAPIKey        = "api-key"
	FlagAllowedModels = "allowed-models"
	FlagSQLite        = "sqlite"
	FlagPostgres      = "postgres"
	FlagCacheProvider = "cache-provider"
	FlagCacheSQLite   = "cache-sqlite"
	FlagVisionModel   = "vision-model"
	FlagKafkaBrokers  = "kafka-brokers"
	FlagKafkaTopic    = "kafka-topic"
	FlagProxyTarget   = "proxy-target"
	FlagAPITarget     = "api-target"
	FlagModel         = "model"
)

// ServeFlags are the flags of "relay serve".
var ServeFlags = FlagSet{
	FlagProxyListen:   {Name: "proxy-listen", Shorthand: "p", ViperKey: "proxy.listen", Description: "Address for the relay to listen on"},
	FlagAPIListen:     {Name: "api-listen", Shorthand: "a", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagUpstream:      {Name: "upstream", Shorthand: "u", ViperKey: "proxy.upstream", Description: "Upstream LLM provider URL"},
	FlagProvider:      {Name: "provider", ViperKey: "proxy.provider", Description: "LLM provider type (xai, openai)"},
	FlagAPIKey:        {Name: "api-key", ViperKey: "proxy.api_key", Description: "API key sent upstream when a request has no Authorization"},
	FlagAllowedModels: {Name: "allowed-models", ViperKey: "proxy.allowed_models", Description: "Comma separated models clients may request (empty allows all)"},
	FlagSQLite:        {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database for the turn log"},
	FlagPostgres:      {Name: "postgres", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string for the turn log"},
	FlagCacheProvider: {Name: "cache-provider", ViperKey: "cache.provider", Description: "Image cache provider (memory, sqlite)"},
	FlagCacheSQLite:   {Name: "cache-sqlite", ViperKey: "cache.sqlite_path", Description: "Path to SQLite database for the image cache"},
	FlagVisionModel:   {Name: "vision-model", ViperKey: "vision.model", Description: "Model used to describe images"},
	FlagKafkaBrokers:  {Name: "kafka-brokers", ViperKey: "eventstream.brokers", Description: "Comma separated Kafka brokers for turn events"},
	FlagKafkaTopic:    {Name: "kafka-topic", ViperKey: "eventstream.topic", Description: "Kafka topic for turn events"},
}

// ChatFlags are the flags of "relay chat".
var ChatFlags = FlagSet{
	FlagProxyTarget: {Name: "proxy-target", ViperKey: "client.proxy_target", Description: "Relay URL to send chat turns through"},
	FlagModel:       {Name: "model", Shorthand: "m", ViperKey: "client.model", Description: "Model to chat with"},
	FlagVisionModel: {Name: "vision-model", ViperKey: "vision.model", Description: "Model used to describe images"},
}

// TurnsFlags are the flags of "relay turns".
var TurnsFlags = FlagSet{
	FlagAPITarget: {Name: "api-target", ViperKey: "client.api_target", Description: "API server URL to read turns from"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString renders the NewDefaultConfig value of a config key.
func defaultString(key string) string {
	k, ok := configKeys[key]
	if !ok {
		return ""
	}
	return k.get(NewDefaultConfig())
}
