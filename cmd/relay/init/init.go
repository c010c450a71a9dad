// Package initcmder provides the init command for initializing a local .relay
// directory in the current working directory.
package initcmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const (
	dirName    = ".relay"
	configFile = "config.toml"

	// maxRemoteConfigSize caps the body read from a remote preset.
	maxRemoteConfigSize = 1 << 20
)

const initLongDesc string = `Initialize a new .relay/ directory in the current working directory.

Creates a local .relay/ directory that takes precedence over the default
~/.relay/ directory for configuration and the chat session.

A config.toml is written when --preset is given, or when none exists yet.
The preset is either a provider name (xai, openai) or an http(s) URL to a
config.toml to download.

Examples:
  relay init
  relay init --preset openai
  relay init --preset https://example.com/relay/config.toml`

const initShortDesc string = "Initialize a local .relay/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), cmd.OutOrStdout(), preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "",
		fmt.Sprintf("Provider preset (%s) or URL to a config.toml", strings.Join(config.ValidPresetNames(), ", ")))

	return cmd
}

func runInit(ctx context.Context, w io.Writer, preset string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)
	cfgPath := filepath.Join(dir, configFile)

	// Resolve the preset before touching the filesystem so a bad name or
	// URL leaves no half-initialized directory behind.
	var cfg *config.Config
	switch {
	case preset == "":
		if _, err := os.Stat(cfgPath); err != nil {
			cfg = config.NewDefaultConfig()
		}
	case isURL(preset):
		cfg, err = fetchRemoteConfig(ctx, preset)
	default:
		cfg, err = config.PresetConfig(preset)
	}
	if err != nil {
		return err
	}

	info, statErr := os.Stat(dir)
	alreadyInitialized := statErr == nil && info.IsDir()
	if !alreadyInitialized {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .relay directory: %w", err)
		}
	}

	if cfg != nil {
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return err
		}
		if err := cfger.SaveConfig(cfg); err != nil {
			return err
		}
	}

	switch {
	case alreadyInitialized && cfg == nil:
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
	case alreadyInitialized:
		fmt.Fprintf(w, "%s Wrote %s\n", cliui.SuccessMark, cfgPath)
	default:
		fmt.Fprintf(w, "%s Initialized .relay directory: %s\n", cliui.SuccessMark, dir)
	}
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func fetchRemoteConfig(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteConfigSize))
	if err != nil {
		return nil, fmt.Errorf("reading remote config: %w", err)
	}

	cfg, err := config.ParseConfigTOML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing remote config: %w", err)
	}
	return cfg, nil
}
