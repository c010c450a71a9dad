// Package relaycmder is the root of the relay CLI.
package relaycmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/relay/cmd/relay/auth"
	chatcmder "github.com/papercomputeco/relay/cmd/relay/chat"
	configcmder "github.com/papercomputeco/relay/cmd/relay/config"
	initcmder "github.com/papercomputeco/relay/cmd/relay/init"
	servecmder "github.com/papercomputeco/relay/cmd/relay/serve"
	turnscmder "github.com/papercomputeco/relay/cmd/relay/turns"
	versioncmder "github.com/papercomputeco/relay/cmd/version"
)

const relayLongDesc string = `Relay is a chat completions relay for xAI models.

It forwards OpenAI-compatible requests to the xAI API, makes image
references embeddable, enforces a model allow-list, and records every
chat turn.

Run services using:
  relay serve          Run the relay and the API server together
  relay chat           Chat with a model through the relay

Inspect recorded turns using:
  relay turns          List turns from a running API server`

const relayShortDesc string = "Relay - xAI chat relay"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        relayShortDesc,
		Long:         relayLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(turnscmder.NewTurnsCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
