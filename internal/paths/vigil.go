// Package paths resolves vigil's on-disk locations, honoring XDG overrides.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "vigil"

// DataDir returns the directory holding durable registry state: the JSON
// snapshot and the transition history database. Honors XDG_DATA_HOME and
// defaults to ~/.local/share/vigil.
func DataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// ConfigDir returns the user configuration directory, ~/.config/vigil on
// Linux. XDG_CONFIG_HOME is honored through os.UserConfigDir.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config directory: %w", err)
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the user config file path inside ConfigDir.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ResolveDataDir normalizes a configured data directory. An empty value maps
// to the XDG default and a leading ~/ expands to the home directory, so
// config files stay portable across machines.
func ResolveDataDir(configured string) (string, error) {
	if configured == "" {
		return DataDir()
	}
	expanded, err := ExpandHome(configured)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}

// ExpandHome expands a leading ~/ to the current user's home directory.
// Paths without the prefix (including ~user forms) are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
