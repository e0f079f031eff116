// Package versioncmder provides the version command.
package versioncmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/warden/pkg/cliui"
	"github.com/papercomputeco/warden/pkg/utils"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the warden version",
		Long:  "Display the version, commit and build time of this warden binary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.OutOrStdout())
		},
	}
}

func run(w io.Writer) error {
	for _, row := range [][2]string{
		{"Version:", utils.Version},
		{"Sha:", utils.Sha},
		{"Built at:", utils.Buildtime},
	} {
		fmt.Fprintf(w, "%-10s %s\n", cliui.KeyStyle.Render(row[0]), cliui.ValueStyle.Render(row[1]))
	}
	return nil
}
