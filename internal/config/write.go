package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Permissions for files and directories created by "config init".
const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// ErrConfigExists is returned by WriteDefault when the file is already there.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate lists every setting, commented out at its default.
const configTemplate = `# drive-in configuration
# Uncomment and modify to override defaults.

[auth]
# OAuth client registered in the Google Cloud console.
# client_id = ""
# client_secret = ""
# scopes = ["https://www.googleapis.com/auth/drive"]
# redirect_uri = ""
# token_path = ""

[transfers]
# Chunk size for uploads and downloads. A bare number is MiB.
# chunk_size = "25MiB"
# Concurrent downloads for "get" with several files.
# parallel = 4
# overwrite = true
# Progress bars: auto (only on a terminal), always, never
# progress = "auto"

[network]
# control_timeout = "5s"
# chunk_timeout = "60s"
# user_agent = "drive-in/0.1"
# base_url = "https://www.googleapis.com/drive/v3"
# upload_url = "https://www.googleapis.com/upload/drive/v3"

[logging]
# log_level = "info"
# log_format = "text"

[history]
# enabled = true
# path = ""
`

// WriteDefault creates a commented config file at path. It refuses to
// overwrite an existing file.
func WriteDefault(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	logger.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetKey sets section.key to value in the config file at path, editing the
// text in place so comments survive. A missing file is created from the
// template; a missing section is appended. The result must still load.
func SetKey(path, section, key, value string, logger *slog.Logger) error {
	if _, ok := knownKeys[section]; !ok || sectionOf(key) != section {
		return withSuggestion(fmt.Sprintf("unknown config key %q", section+"."+key), key, knownKeys[section])
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	logger.Info("setting config key",
		slog.String("path", path),
		slog.String("key", section+"."+key),
	)

	lines := strings.Split(string(data), "\n")
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(key, value))

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		lines = append(lines, "", "["+section+"]", newLine, "")
	} else {
		lines = setKeyInSection(lines, headerLine, key, newLine)
	}

	content := []byte(strings.Join(lines, "\n"))

	if _, err := Parse(content); err != nil {
		return fmt.Errorf("config: refusing to write %s.%s = %s: %w", section, key, value, err)
	}

	return atomicWriteFile(path, content)
}

// findSectionHeader returns the line index of [section], or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the next section header after start,
// or len(lines).
func findSectionEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return i
		}
	}

	return len(lines)
}

// setKeyInSection replaces an existing key line (including a commented-out
// default) or inserts a new one right after the header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	end := findSectionEnd(lines, headerLine)
	commented := -1

	for i := headerLine + 1; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if isKeyLine(trimmed, key) {
			lines[i] = newLine

			return lines
		}

		if commented < 0 && isKeyLine(strings.TrimSpace(strings.TrimPrefix(trimmed, "#")), key) {
			commented = i
		}
	}

	if commented >= 0 {
		lines[commented] = newLine

		return lines
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

func isKeyLine(line, key string) bool {
	rest, ok := strings.CutPrefix(line, key)

	return ok && strings.HasPrefix(strings.TrimSpace(rest), "=")
}

// Keys whose TOML type is not a string.
var (
	boolKeys = map[string]bool{"overwrite": true, "enabled": true}
	intKeys  = map[string]bool{"parallel": true}
)

// formatTOMLValue renders value as the TOML type key expects. Values that do
// not parse are quoted and rejected later by the load check.
func formatTOMLValue(key, value string) string {
	if _, err := strconv.ParseBool(value); err == nil && boolKeys[key] {
		return strings.ToLower(value)
	}

	if _, err := strconv.Atoi(value); err == nil && intKeys[key] {
		return value
	}

	return strconv.Quote(value)
}

// atomicWriteFile writes data to a temp file next to path and renames it
// into place, creating parent directories as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
