package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func ptr[T any](v T) *T { return &v }

func TestDefaultConfig_PassesValidation(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[auth]
client_id = "id.apps.googleusercontent.com"
client_secret = "shh"
scopes = ["https://www.googleapis.com/auth/drive.file"]
token_path = "/tmp/token.json"

[transfers]
chunk_size = "8MiB"
parallel = 2
overwrite = false
progress = "never"

[network]
control_timeout = "3s"
chunk_timeout = "2m"
user_agent = "custom/1.0"
base_url = "http://localhost:8080/drive/v3"
upload_url = "http://localhost:8080/upload/drive/v3"

[logging]
log_level = "debug"
log_format = "json"

[history]
enabled = false
path = "/tmp/history.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "id.apps.googleusercontent.com", cfg.Auth.ClientID)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/drive.file"}, cfg.Auth.Scopes)
	assert.Equal(t, "8MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, 2, cfg.Transfers.Parallel)
	assert.False(t, cfg.Transfers.Overwrite)
	assert.Equal(t, "never", cfg.Transfers.Progress)
	assert.Equal(t, "2m", cfg.Network.ChunkTimeout)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.False(t, cfg.History.Enabled)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[transfers]\nparallel = 8\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Transfers.Parallel)
	assert.Equal(t, defaultChunkSize, cfg.Transfers.ChunkSize)
	assert.True(t, cfg.Transfers.Overwrite)
	assert.Equal(t, defaultBaseURL, cfg.Network.BaseURL)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[transfers\nparallel = 8\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestLoad_ValidationErrorsAreJoined(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
parallel = 0
progress = "sometimes"

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel")
	assert.Contains(t, err.Error(), "progress")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")})
	require.NoError(t, err)

	assert.Equal(t, int64(25*1024*1024), r.ChunkSize)
	assert.Equal(t, 5*time.Second, r.ControlTimeout)
	assert.Equal(t, 60*time.Second, r.ChunkTimeout)
	assert.Equal(t, "token.json", filepath.Base(r.TokenPath))
	assert.Equal(t, "history.db", filepath.Base(r.HistoryPath))
	assert.Empty(t, r.AccessToken)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, "[transfers]\nchunk_size = \"4MiB\"\nparallel = 3\n")

	// File only.
	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, r.ConfigPath)
	assert.Equal(t, int64(4*1024*1024), r.ChunkSize)

	// Env beats file.
	r, err = Resolve(EnvOverrides{ConfigPath: path, ChunkSize: "2", AccessToken: "raw"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), r.ChunkSize)
	assert.Equal(t, "raw", r.AccessToken)

	// CLI beats env.
	r, err = Resolve(EnvOverrides{ConfigPath: path, ChunkSize: "2"}, CLIOverrides{
		ChunkSize: ptr("1MiB"),
		Parallel:  ptr(6),
		Progress:  ptr("always"),
		LogLevel:  ptr("debug"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), r.ChunkSize)
	assert.Equal(t, 6, r.Transfers.Parallel)
	assert.Equal(t, "always", r.Transfers.Progress)
	assert.Equal(t, "debug", r.Logging.LogLevel)
}

func TestResolve_CLIConfigPathBeatsEnv(t *testing.T) {
	envPath := writeTestConfig(t, "[transfers]\nparallel = 2\n")
	cliPath := writeTestConfig(t, "[transfers]\nparallel = 9\n")

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, 9, r.Transfers.Parallel)
}

func TestResolve_InvalidOverride(t *testing.T) {
	_, err := Resolve(EnvOverrides{ChunkSize: "1000B"}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "x.toml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestResolve_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeTestConfig(t, "[auth]\ntoken_path = \"~/tok.json\"\n[history]\npath = \"/abs/h.db\"\n")

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tok.json"), r.TokenPath)
	assert.Equal(t, "/abs/h.db", r.HistoryPath)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvToken, "ya29.token")
	t.Setenv(EnvChunkSize, "")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, "ya29.token", env.AccessToken)
	assert.Empty(t, env.ChunkSize)
}
