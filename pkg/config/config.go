package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/warden/pkg/dotdir"
)

// CurrentV is the only config.toml schema version warden reads.
const CurrentV = 0

// Configer reads and writes config.toml in a .warden/ directory. With no
// directory it serves defaults and refuses to save.
type Configer struct {
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	dir, err := dotdir.NewManager().Target(override)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return &Configer{}, nil
	}

	path := filepath.Join(dir, dotdir.ConfigFile)
	if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return &Configer{targetPath: path}, nil
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig overlays config.toml on the defaults. A missing file yields
// the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if errors.Is(err, os.ErrNotExist) {
		return NewDefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfigTOML(data)
}

// SaveConfig writes cfg with owner-only permissions, since it may carry
// API keys.
func (c *Configer) SaveConfig(cfg *Config) error {
	switch {
	case cfg == nil:
		return errors.New("cannot save nil config")
	case c.targetPath == "":
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Update loads the config, applies fn and saves the result. Nothing is
// written when fn fails.
func (c *Configer) Update(fn func(*Config) error) error {
	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return c.SaveConfig(cfg)
}

// SetConfigValue parses value for the dotted key and persists it.
func (c *Configer) SetConfigValue(key, value string) error {
	info, err := lookupKey(key)
	if err != nil {
		return err
	}
	return c.Update(func(cfg *Config) error { return info.set(cfg, value) })
}

// GetConfigValue returns the effective value of the dotted key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, err := lookupKey(key)
	if err != nil {
		return "", err
	}
	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}
	return info.get(cfg), nil
}

func lookupKey(key string) (configKeyInfo, error) {
	info, ok := configKeys[key]
	if !ok {
		return configKeyInfo{}, fmt.Errorf("unknown config key: %q", key)
	}
	return info, nil
}

// ValidConfigKeys lists the dotted keys in config.toml section order.
func ValidConfigKeys() []string {
	out := make([]string, 0, len(configKeyOrder))
	for _, k := range configKeyOrder {
		if _, ok := configKeys[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

// presets adjust the defaults for one deployment shape.
var presets = map[string]func(*Config){
	"ollama": func(*Config) {},
	"openai": func(c *Config) {
		c.LLM = LLMConfig{Provider: "openai", Model: "gpt-4o-mini", Target: "https://api.openai.com"}
	},
	"anthropic": func(c *Config) {
		c.LLM = LLMConfig{Provider: "anthropic", Model: "claude-haiku-4-5-20251001", Target: "https://api.anthropic.com"}
	},
	// offline keeps everything except generation on this machine: hashed
	// embeddings, an embedded vector store, local memory and lexical
	// claim checks.
	"offline": func(c *Config) {
		c.Embedding = EmbeddingConfig{Provider: "hash", Dimensions: 256}
		c.VectorStore = VectorStoreConfig{Provider: "chromem"}
		c.Memory.UseCustomMemory = true
		c.Validation.Strategy = "lexical"
	},
}

// PresetConfig returns the defaults adjusted by the named preset.
func PresetConfig(name string) (*Config, error) {
	apply, ok := presets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown preset: %q (available: %s)", name, strings.Join(ValidPresetNames(), ", "))
	}
	cfg := NewDefaultConfig()
	apply(cfg)
	return cfg, nil
}

func ValidPresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseConfigTOML overlays data on the defaults. It rejects other schema
// versions and keys warden does not know, so typos surface instead of
// silently falling back to defaults.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}
