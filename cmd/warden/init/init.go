// Package initcmder provides the init command for initializing a local
// .warden directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/warden/pkg/cliui"
	"github.com/papercomputeco/warden/pkg/config"
	"github.com/papercomputeco/warden/pkg/dotdir"
)

const initLongDesc string = `Initialize a new .warden/ directory in the current working directory.

Creates a local .warden/ directory that takes precedence over ~/.warden/ for
configuration, credentials, conversation history and the local vector
store, and writes a config.toml with default values. An existing
config.toml is left untouched.

Use --preset to start from a model provider preset: ` + "ollama, openai, anthropic" + `.

Examples:
  warden init
  warden init --preset anthropic`

const initShortDesc string = "Initialize a local .warden/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Provider preset ("+strings.Join(config.ValidPresetNames(), ", ")+")")

	return cmd
}

func runInit(w io.Writer, preset string) error {
	cfg := config.NewDefaultConfig()
	if preset != "" {
		var err error
		cfg, err = config.PresetConfig(preset)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dotdir.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .warden directory: %w", err)
	}

	_, err = os.Stat(filepath.Join(dir, dotdir.ConfigFile))
	switch {
	case err == nil:
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("reading config: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Initialized %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(dir))
	fmt.Fprintf(w, "  %s %s\n",
		cliui.KeyStyle.Render("Model:"),
		cliui.NameStyle.Render(cfg.LLM.Provider+"/"+cfg.LLM.Model),
	)
	return nil
}
