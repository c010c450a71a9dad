// Package authcmder provides the auth command for storing the upstream API key.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const apiKeyConfigKey = "proxy.api_key"

const authLongDesc string = `Store the xAI API key used by the relay.

The key is saved as proxy.api_key in config.toml in the .relay/ directory.
The relay sends it upstream for requests that carry no Authorization
header of their own. RELAY_PROXY_API_KEY overrides the stored key.

Examples:
  relay auth                     Prompt for the API key
  echo $XAI_API_KEY | relay auth Pipe the API key from stdin
  relay auth --remove            Remove the stored key`

const authShortDesc string = "Store the xAI API key"

func NewAuthCmd() *cobra.Command {
	var removeFlag bool

	cmd := &cobra.Command{
		Use:   "auth",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			if removeFlag {
				return runRemove(cmd.OutOrStdout(), configDir)
			}
			return runAuth(cmd.InOrStdin(), cmd.OutOrStdout(), configDir)
		},
	}

	cmd.Flags().BoolVar(&removeFlag, "remove", false, "Remove the stored API key")

	return cmd
}

func runAuth(in io.Reader, w io.Writer, configDir string) error {
	apiKey, err := readAPIKey(in, w)
	if err != nil {
		return err
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfger.SetConfigValue(apiKeyConfigKey, apiKey); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s Stored API key %s\n\n",
		cliui.SuccessMark,
		cliui.DimStyle.Render("(in "+cfger.GetTarget()+")"),
	)

	if !strings.HasPrefix(apiKey, "xai-") {
		fmt.Fprintf(w, "  %s xAI keys usually start with \"xai-\".\n\n", cliui.WarnStyle.Render("!"))
	}

	return nil
}

func runRemove(w io.Writer, configDir string) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfger.SetConfigValue(apiKeyConfigKey, ""); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s Removed the stored API key.\n\n", cliui.SuccessMark)
	return nil
}

// readAPIKey reads an API key from in. A terminal gets a prompt with hidden
// input; anything else is read up to the first line.
func readAPIKey(in io.Reader, w io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(w, "Enter xAI API key: ")

		keyBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(w) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return string(keyBytes), nil
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}
