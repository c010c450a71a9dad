package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const listLongDesc string = `List all configuration values.

Displays all configuration keys and their current values from the
config.toml file stored in the .relay/ directory. The API key is masked.

Examples:
  relay config list`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir)
		},
	}

	return cmd
}

func runList(w io.Writer, configDir string) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	printTarget(w, cfger)

	keys := config.ValidConfigKeys()

	// Find the longest key name for alignment.
	maxLen := 0
	for _, k := range keys {
		maxLen = max(maxLen, len(k))
	}

	for _, key := range keys {
		value, err := cfger.GetConfigValue(key)
		if err != nil {
			return err
		}

		label := cliui.PadRight(cliui.KeyStyle.Render(key), maxLen)
		switch {
		case value == "":
			fmt.Fprintf(w, "  %s  %s\n", label, cliui.DimStyle.Render("<not set>"))
		case key == "proxy.api_key":
			fmt.Fprintf(w, "  %s  %s\n", label, cliui.ValueStyle.Render(maskSecret(value)))
		default:
			fmt.Fprintf(w, "  %s  %s\n", label, cliui.ValueStyle.Render(value))
		}
	}
	fmt.Fprintln(w)

	return nil
}

// maskSecret keeps the last four characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}
