// Package setup loads the effective configuration for a warden command and
// builds its logger.
package setup

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/warden/pkg/config"
	"github.com/papercomputeco/warden/pkg/credentials"
	"github.com/papercomputeco/warden/pkg/dotdir"
	"github.com/papercomputeco/warden/pkg/logger"
)

// Loaded is the effective configuration of one command invocation.
type Loaded struct {
	Config *config.Config
	Viper  *viper.Viper

	// DataDir is the resolved .warden/ directory, empty when none exists.
	DataDir string
}

// Load merges flags, environment, config.toml and defaults (in that order
// of precedence), resolves credentials and validates the result. flagKeys
// are config.Flags registry keys the command registered.
func Load(cmd *cobra.Command, flagKeys []string) (*Loaded, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	cfg.ResolveCredentials(mgr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dataDir, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, err
	}

	return &Loaded{Config: cfg, Viper: v, DataDir: dataDir}, nil
}

// Logger builds the command logger. Interactive commands log to w (stderr)
// with the pretty handler so logs never interleave with answers on stdout.
func Logger(cmd *cobra.Command, w io.Writer, pretty bool) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(pretty),
		logger.WithWriter(w),
	)
}
