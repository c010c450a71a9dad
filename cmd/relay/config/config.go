// Package configcmder provides the config command for managing persistent
// relay configuration stored in the .relay/ directory.
package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const configLongDesc string = `Manage persistent relay configuration.

Configuration is stored as config.toml in the .relay/ directory and provides
default values for command flags. CLI flags and RELAY_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, storage.postgres_dsn,
  proxy.provider, proxy.upstream, proxy.listen, proxy.api_key,
  proxy.allowed_models, proxy.request_timeout,
  api.listen,
  cache.provider, cache.sqlite_path, cache.max_entries, cache.ttl,
  vision.model, vision.max_retries, vision.base_delay,
  client.proxy_target, client.api_target, client.model,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  eventstream.client_id

MCP servers for "relay chat" are edited directly in config.toml as
[[mcp.servers]] tables.

Use subcommands to get, set, or list configuration values:
  relay config set <key> <value>    Set a configuration value
  relay config get <key>            Get a configuration value
  relay config list                 List all configuration values

Examples:
  relay config set proxy.allowed_models grok-3,grok-3-mini
  relay config set cache.provider sqlite
  relay config get proxy.upstream
  relay config list`

const configShortDesc string = "Manage persistent relay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// printTarget prints which config file a command reads or writes.
func printTarget(w io.Writer, cfger *config.Configer) {
	target := cfger.GetTarget()
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
