// Package dotdir resolves the .warden/ directory that holds config.toml,
// credentials.toml, the embedded vector indexes and warden.log.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DirName = ".warden"

	// HomeEnv names a .warden/ directory to use when no override is given.
	HomeEnv = "WARDEN_HOME"

	ConfigFile      = "config.toml"
	CredentialsFile = "credentials.toml"
	LogFile         = "warden.log"
	chromemDir      = "chromem"
)

// IndexFile is the sqlite-vec database for a collection inside dir.
func IndexFile(dir, collection string) string {
	return filepath.Join(dir, collection+".vec.db")
}

// ChromemDir is where the embedded chromem store persists under dir.
func ChromemDir(dir string) string {
	return filepath.Join(dir, chromemDir)
}

type Manager struct {
	getenv func(string) string
}

func NewManager() *Manager {
	return &Manager{getenv: os.Getenv}
}

// Target returns the absolute .warden/ directory, or "" when none exists.
// Precedence:
//  1. overrideDir, created if missing
//  2. $WARDEN_HOME, created if missing
//  3. ./.warden/
//  4. ~/.warden/
func (m *Manager) Target(overrideDir string) (string, error) {
	if overrideDir == "" {
		overrideDir = m.getenv(HomeEnv)
	}
	if overrideDir != "" {
		if err := os.MkdirAll(overrideDir, 0o755); err != nil {
			return "", fmt.Errorf("creating warden directory %s: %w", overrideDir, err)
		}
		return filepath.Abs(overrideDir)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	for _, base := range []string{cwd, home} {
		if dir := filepath.Join(base, DirName); isDir(dir) {
			return dir, nil
		}
	}
	return "", nil
}

// Ensure is Target, creating ~/.warden/ when nothing resolves.
func (m *Manager) Ensure(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil || dir != "" {
		return dir, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	dir = filepath.Join(home, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating warden directory %s: %w", dir, err)
	}
	return dir, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
