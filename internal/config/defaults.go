package config

// Default values for every config field.
const (
	defaultChunkSize      = "25MiB"
	defaultParallel       = 4
	defaultOverwrite      = true
	defaultProgress       = "auto"
	defaultControlTimeout = "5s"
	defaultChunkTimeout   = "60s"
	defaultUserAgent      = "drive-in/0.1"
	defaultBaseURL        = "https://www.googleapis.com/drive/v3"
	defaultUploadURL      = "https://www.googleapis.com/upload/drive/v3"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultHistoryEnabled = true
	defaultScope          = "https://www.googleapis.com/auth/drive"
)

// File names under the platform directories.
const (
	tokenFileName   = "token.json"
	historyFileName = "history.db"
)

// DefaultConfig returns a Config with every field at its default. The
// returned value is what a missing config file decodes to.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Scopes: []string{defaultScope},
		},
		Transfers: TransfersConfig{
			ChunkSize: defaultChunkSize,
			Parallel:  defaultParallel,
			Overwrite: defaultOverwrite,
			Progress:  defaultProgress,
		},
		Network: NetworkConfig{
			ControlTimeout: defaultControlTimeout,
			ChunkTimeout:   defaultChunkTimeout,
			UserAgent:      defaultUserAgent,
			BaseURL:        defaultBaseURL,
			UploadURL:      defaultUploadURL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		History: HistoryConfig{
			Enabled: defaultHistoryEnabled,
		},
	}
}
