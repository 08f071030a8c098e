// Package paths provides XDG-compliant path resolution for relay.
//
// Resolution order:
// 1. RELAY_HOME (portable root) → $RELAY_HOME/{config,state,cache}
// 2. XDG env vars → $XDG_*_HOME/relay
// 3. Platform defaults → ~/.config/relay, ~/.local/state/relay, etc.
package paths

import (
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if relayHome := os.Getenv("RELAY_HOME"); relayHome != "" {
		return filepath.Join(relayHome, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if relayHome := os.Getenv("RELAY_HOME"); relayHome != "" {
		return filepath.Join(relayHome, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// getCacheHome returns the base cache home directory.
func getCacheHome() string {
	if relayHome := os.Getenv("RELAY_HOME"); relayHome != "" {
		return filepath.Join(relayHome, "cache")
	}
	if xdgCacheHome := os.Getenv("XDG_CACHE_HOME"); xdgCacheHome != "" {
		return xdgCacheHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cache")
	}
	return ""
}

// ConfigDir returns the relay configuration directory.
// Used for relay.toml and the command allowlist file.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "relay")
}

// ConfigFilePath returns the path to the main configuration file.
func ConfigFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "relay.toml")
}

// AllowlistFilePath returns the path to the optional command allowlist file.
func AllowlistFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "commands.yml")
}

// StateDir returns the relay state directory.
// Used for runtime artifacts like logs and the pid file.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "relay")
}

// CacheDir returns the relay cache directory.
func CacheDir() string {
	base := getCacheHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "relay")
}

// PidFilePath returns the path to the daemon pid file.
func PidFilePath() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "relayd.pid")
}
