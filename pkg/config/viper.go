package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/papercomputeco/warden/pkg/dotdir"
)

// InitViper returns a viper seeded with NewDefaultConfig, config.toml from
// the resolved .warden/ directory and WARDEN_* environment variables.
//
// Precedence, highest first:
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (WARDEN_LLM_PROVIDER, WARDEN_AGENT_MAX_CYCLES, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	target, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from every registered key in v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	for _, key := range configKeyOrder {
		info := configKeys[key]

		var raw string
		if key == "events.brokers" {
			raw = strings.Join(v.GetStringSlice(key), ",")
		} else {
			raw = v.GetString(key)
		}

		if err := info.set(cfg, raw); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// reloadDebounce collapses the burst of events editors emit for one save.
const reloadDebounce = 250 * time.Millisecond

// Watch calls onChange with a freshly materialized Config after config.toml
// changes on disk. Bursts of events within reloadDebounce produce a single
// call.
func Watch(v *viper.Viper, onChange func(*Config, error)) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() { onChange(FromViper(v)) })
	})
	v.WatchConfig()
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation, keeping defaults.go the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)
	for _, key := range configKeyOrder {
		v.SetDefault(key, configKeys[key].get(d))
	}
}
