// Package wardencmder assembles the warden root command.
package wardencmder

import (
	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/warden/cmd/warden/ask"
	authcmder "github.com/papercomputeco/warden/cmd/warden/auth"
	configcmder "github.com/papercomputeco/warden/cmd/warden/config"
	initcmder "github.com/papercomputeco/warden/cmd/warden/init"
	servecmder "github.com/papercomputeco/warden/cmd/warden/serve"
	versioncmder "github.com/papercomputeco/warden/cmd/version"
	"github.com/papercomputeco/warden/pkg/utils"
)

const wardenLongDesc string = `Warden is a compliance and AI security assistant.

Every answer is grounded in your indexed regulatory documents: claims are
checked against the passages they cite and unsupported answers are refined
or withheld. Warden remembers what you tell it about yourself and your
organization.

Get started using:
  warden init --preset ollama    Create a .warden/ directory with a config
  warden ask                     Ask questions interactively
  warden serve                   Run the HTTP API and MCP server`

const wardenShortDesc string = "Warden - grounded compliance answers"

func NewWardenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "warden",
		Short:        wardenShortDesc,
		Long:         wardenLongDesc,
		Version:      utils.Version,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .warden/ directory")

	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
