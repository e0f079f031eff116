// Package configcmder provides the config command for managing persistent
// warden configuration stored in the .warden/ directory.
package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/warden/pkg/cliui"
)

const configLongDesc string = `Manage persistent warden configuration.

Configuration is stored as config.toml in the .warden/ directory and provides
default values for command flags. CLI flags and WARDEN_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  agent.user_id, agent.max_cycles, agent.allow_partial,
  approval.enabled, approval.timeout,
  llm.provider, llm.model, memory.use_custom_memory,
  vector_store.provider, embedding.model

Use subcommands to get, set, or list configuration values:
  warden config set <key> <value>    Set a configuration value
  warden config get <key>            Get a configuration value
  warden config list                 List all configuration values

Examples:
  warden config set llm.provider anthropic
  warden config set agent.max_cycles 5
  warden config get approval.timeout
  warden config list`

const configShortDesc string = "Manage persistent warden configuration"

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
