// Package config loads drive-in's TOML configuration and resolves it through
// the override chain: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the on-disk configuration. String-typed sizes and durations are
// kept as written so that "config show" echoes the user's own spelling; the
// parsed values live on Resolved.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	Transfers TransfersConfig `toml:"transfers"`
	Network   NetworkConfig   `toml:"network"`
	Logging   LoggingConfig   `toml:"logging"`
	History   HistoryConfig   `toml:"history"`
}

// AuthConfig holds the OAuth client registration and token location.
type AuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`
	RedirectURI  string   `toml:"redirect_uri"`
	TokenPath    string   `toml:"token_path"`
}

// TransfersConfig controls chunking and concurrency.
type TransfersConfig struct {
	ChunkSize string `toml:"chunk_size"`
	Parallel  int    `toml:"parallel"`
	Overwrite bool   `toml:"overwrite"`
	Progress  string `toml:"progress"`
}

// NetworkConfig holds endpoint and timeout settings.
type NetworkConfig struct {
	ControlTimeout string `toml:"control_timeout"`
	ChunkTimeout   string `toml:"chunk_timeout"`
	UserAgent      string `toml:"user_agent"`
	BaseURL        string `toml:"base_url"`
	UploadURL      string `toml:"upload_url"`
}

// LoggingConfig controls the stderr logger.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// HistoryConfig controls the local transfer log.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Resolved is the effective configuration after every override layer has
// been applied, with sizes, durations and paths parsed.
type Resolved struct {
	Config

	// ConfigPath is the file the values were read from (it may not exist).
	ConfigPath string

	// AccessToken is a raw bearer token from DRIVE_IN_TOKEN. When set, the
	// token file is not consulted.
	AccessToken string

	ChunkSize      int64
	ControlTimeout time.Duration
	ChunkTimeout   time.Duration
	TokenPath      string
	HistoryPath    string
}

// CLIOverrides holds flag values. Pointer fields are nil when the flag was
// not given.
type CLIOverrides struct {
	ConfigPath string
	ChunkSize  *string
	Parallel   *int
	Progress   *string
	LogLevel   *string
}
