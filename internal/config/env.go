package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "DRIVE_IN_CONFIG"
	EnvToken     = "DRIVE_IN_TOKEN"
	EnvChunkSize = "DRIVE_IN_CHUNK_SIZE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // DRIVE_IN_CONFIG: config file path
	AccessToken string // DRIVE_IN_TOKEN: raw bearer token
	ChunkSize   string // DRIVE_IN_CHUNK_SIZE: chunk size ("8MiB", or bare MiB)
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		AccessToken: os.Getenv(EnvToken),
		ChunkSize:   os.Getenv(EnvChunkSize),
	}
}
