package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName names the per-user directories on every platform.
const appName = "drive-in"

const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files:
// $XDG_CONFIG_HOME/drive-in on Linux, ~/Library/Application Support/drive-in
// on macOS, ~/.config/drive-in elsewhere.
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific directory for the token file
// and the transfer history: $XDG_DATA_HOME/drive-in on Linux and the same
// Application Support directory as the config on macOS.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// platformDir resolves an XDG-style directory. xdgVar is consulted on Linux
// only; fallback is relative to the home directory.
func platformDir(xdgVar, fallback string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	case platformLinux:
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the config file used when neither
// DRIVE_IN_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
