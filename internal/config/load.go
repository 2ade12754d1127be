package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and carry "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates TOML config text on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ChunkSize != "" {
		cfg.Transfers.ChunkSize = env.ChunkSize
	}

	applyCLIOverrides(cfg, cli)

	// Overrides bypass Load's validation, so check again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath, env.AccessToken)
}

func applyCLIOverrides(cfg *Config, cli CLIOverrides) {
	if cli.ChunkSize != nil {
		cfg.Transfers.ChunkSize = *cli.ChunkSize
	}

	if cli.Parallel != nil {
		cfg.Transfers.Parallel = *cli.Parallel
	}

	if cli.Progress != nil {
		cfg.Transfers.Progress = *cli.Progress
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}
}

// resolve parses the validated string fields of cfg. Parse errors cannot
// occur after Validate, but are still reported.
func resolve(cfg *Config, cfgPath, accessToken string) (*Resolved, error) {
	chunk, err := ParseChunkSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("chunk_size: %w", err)
	}

	control, err := time.ParseDuration(cfg.Network.ControlTimeout)
	if err != nil {
		return nil, fmt.Errorf("control_timeout: %w", err)
	}

	chunkTimeout, err := time.ParseDuration(cfg.Network.ChunkTimeout)
	if err != nil {
		return nil, fmt.Errorf("chunk_timeout: %w", err)
	}

	tokenPath := expandTilde(cfg.Auth.TokenPath)
	if tokenPath == "" {
		tokenPath = filepath.Join(DefaultDataDir(), tokenFileName)
	}

	historyPath := expandTilde(cfg.History.Path)
	if historyPath == "" {
		historyPath = filepath.Join(DefaultDataDir(), historyFileName)
	}

	return &Resolved{
		Config:         *cfg,
		ConfigPath:     cfgPath,
		AccessToken:    accessToken,
		ChunkSize:      chunk,
		ControlTimeout: control,
		ChunkTimeout:   chunkTimeout,
		TokenPath:      tokenPath,
		HistoryPath:    historyPath,
	}, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
