package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName          = "calsync"
	configFileName   = "config.toml"
	databaseFileName = "calsync.db"
	tokenDirName     = "tokens"
	platformLinux    = "linux"
	platformDarwin   = "darwin"
)

// DefaultConfigDir returns the platform-specific configuration directory.
// On Linux it honors XDG_CONFIG_HOME (default ~/.config/calsync); on macOS
// it is ~/Library/Application Support/calsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for the cache
// database and tokens. On Linux it honors XDG_DATA_HOME (default
// ~/.local/share/calsync). macOS keeps config and data together.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, fallbackBase string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(fallbackBase, appName)
}

// DefaultConfigPath returns the config file path used when neither
// CALSYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultDatabasePath returns the cache database path used when neither
// [storage] database, CALSYNC_DB nor --db is given.
func DefaultDatabasePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, databaseFileName)
}

// DefaultTokenPath returns the token file for a feed without token_file.
func DefaultTokenPath(feedName string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, tokenDirName, feedName+".json")
}
