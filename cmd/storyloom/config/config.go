// Package configcmder provides the config command for managing persistent
// storyloom configuration stored in the .storyloom/ directory.
package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/storyloom/pkg/cliui"
)

const configLongDesc string = `Manage persistent storyloom configuration.

Configuration is stored as config.toml in the .storyloom/ directory and
provides default values for command flags. CLI flags and STORYLOOM_*
environment variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  api.listen, client.api_target,
  llm.provider, llm.model, llm.base_url, llm.requests_per_second,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  vector_store.provider, vector_store.target,
  agent.history_turns, agent.recall_k, agent.workers,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  settings.path, settings.disable_watch

Use subcommands to get, set, or list configuration values:
  storyloom config set <key> <value>    Set a configuration value
  storyloom config get <key>            Get a configuration value
  storyloom config list                 List all configuration values

Examples:
  storyloom config set llm.provider gemini
  storyloom config set agent.recall_k 3
  storyloom config get llm.model
  storyloom config list`

const configShortDesc string = "Manage persistent storyloom configuration"

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

// printTarget reports which config file a command is reading.
func printTarget(w io.Writer, target string) {
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
