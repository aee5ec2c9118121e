// Package storyloomcmder
package storyloomcmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/storyloom/cmd/storyloom/auth"
	chatcmder "github.com/papercomputeco/storyloom/cmd/storyloom/chat"
	configcmder "github.com/papercomputeco/storyloom/cmd/storyloom/config"
	initcmder "github.com/papercomputeco/storyloom/cmd/storyloom/init"
	servecmder "github.com/papercomputeco/storyloom/cmd/storyloom/serve"
	versioncmder "github.com/papercomputeco/storyloom/cmd/version"
)

const storyloomLongDesc string = `Storyloom is a narrative engine for interactive fiction.

It keeps the story consistent across long sessions by retrieving relevant
turns, reviewing every reply for rule compliance, tracking where the scene
takes place and consolidating older turns into a searchable memory log.

Get started:
  storyloom init               Create a local .storyloom/ directory
  storyloom auth gemini        Store a provider API key
  storyloom serve              Run the API server
  storyloom chat               Play the story from the terminal`

const storyloomShortDesc string = "Storyloom - interactive fiction with memory"

func NewStoryloomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "storyloom",
		Short:        storyloomShortDesc,
		Long:         storyloomLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .storyloom/ config directory")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
