// Package credentials stores API keys for the model provider and the hosted
// memory service in credentials.toml inside the .warden/ directory.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/warden/pkg/dotdir"
)

const (
	currentVersion = 0

	// ProviderHostedMemory is the credential name for the hosted semantic
	// memory service.
	ProviderHostedMemory = "hosted-memory"
)

// providers lists every credential warden can use, keyed by name, with
// the environment variable consulted when nothing is stored.
var providers = map[string]string{
	"openai":             "OPENAI_API_KEY",
	"anthropic":          "ANTHROPIC_API_KEY",
	ProviderHostedMemory: "WARDEN_MEMORY_API_KEY",
}

// Credentials is the on-disk shape of credentials.toml.
type Credentials struct {
	Version   int                           `toml:"version"`
	Providers map[string]ProviderCredential `toml:"providers"`
}

type ProviderCredential struct {
	APIKey   string    `toml:"api_key"`
	StoredAt time.Time `toml:"stored_at,omitempty"`
}

// Entry describes one stored credential without exposing the key.
type Entry struct {
	Provider string
	EnvVar   string
	Masked   string
	StoredAt time.Time
}

// Manager reads and writes credentials.toml.
type Manager struct {
	targetPath string
	now        func() time.Time
}

// NewManager resolves the .warden/ directory (override first, creating
// ~/.warden/ when nothing exists) and targets its credentials.toml.
func NewManager(override string) (*Manager, error) {
	target, err := dotdir.NewManager().Ensure(override)
	if err != nil {
		return nil, err
	}
	return &Manager{
		targetPath: filepath.Join(target, dotdir.CredentialsFile),
		now:        time.Now,
	}, nil
}

// Load returns the stored credentials, or an empty set when the file does
// not exist yet.
func (m *Manager) Load() (*Credentials, error) {
	creds := &Credentials{Version: currentVersion}

	data, err := os.ReadFile(m.targetPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading credentials: %w", err)
	default:
		if err := toml.Unmarshal(data, creds); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", m.targetPath, err)
		}
	}

	if creds.Providers == nil {
		creds.Providers = make(map[string]ProviderCredential)
	}
	return creds, nil
}

// Save writes creds with owner-only permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (m *Manager) update(fn func(*Credentials)) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}
	fn(creds)
	return m.Save(creds)
}

// SetKey stores key for provider, replacing any previous key.
func (m *Manager) SetKey(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty API key for %s", provider)
	}
	return m.update(func(c *Credentials) {
		c.Providers[provider] = ProviderCredential{APIKey: key, StoredAt: m.now().UTC()}
	})
}

// GetKey returns the stored key for provider, or "" when none is stored.
func (m *Manager) GetKey(provider string) (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}
	return creds.Providers[provider].APIKey, nil
}

func (m *Manager) RemoveKey(provider string) error {
	return m.update(func(c *Credentials) { delete(c.Providers, provider) })
}

// ListProviders returns the sorted names of providers with a stored key.
func (m *Manager) ListProviders() ([]string, error) {
	entries, err := m.Entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Provider
	}
	return names, nil
}

// Entries describes every stored credential, sorted by provider.
func (m *Manager) Entries() ([]Entry, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(creds.Providers))
	for name, cred := range creds.Providers {
		out = append(out, Entry{
			Provider: name,
			EnvVar:   EnvVarForProvider(name),
			Masked:   Mask(cred.APIKey),
			StoredAt: cred.StoredAt,
		})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Provider, b.Provider) })
	return out, nil
}

// Resolve returns the key for provider: the explicit value (usually from
// config.toml) wins, then credentials.toml, then the environment.
func (m *Manager) Resolve(provider, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if m != nil {
		if key, err := m.GetKey(provider); err == nil && key != "" {
			return key
		}
	}
	if env := EnvVarForProvider(provider); env != "" {
		return os.Getenv(env)
	}
	return ""
}

func (m *Manager) GetTarget() string {
	return m.targetPath
}

// Mask keeps the last four characters of key.
func Mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

// EnvVarForProvider returns the fallback environment variable, or "" for
// unknown providers.
func EnvVarForProvider(provider string) string {
	return providers[provider]
}

func SupportedProviders() []string {
	return []string{"openai", "anthropic", ProviderHostedMemory}
}

func IsSupportedProvider(provider string) bool {
	_, ok := providers[provider]
	return ok
}
