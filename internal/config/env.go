package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "CALSYNC_CONFIG"
	EnvFeed   = "CALSYNC_FEED"
	EnvDB     = "CALSYNC_DB"
)

// EnvOverrides holds values read from environment variables.
type EnvOverrides struct {
	ConfigPath string // CALSYNC_CONFIG: config file path
	Feed       string // CALSYNC_FEED: active feed name
	Database   string // CALSYNC_DB: cache database path
}

// ReadEnvOverrides reads the environment. It does not modify any Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Feed:       os.Getenv(EnvFeed),
		Database:   os.Getenv(EnvDB),
	}
}
