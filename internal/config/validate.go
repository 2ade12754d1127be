package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minParallel = 1
	maxParallel = 32

	// Drive requires every non-final upload chunk to be a multiple of 256 KiB.
	chunkAlignBytes = 256 * kibibyte
	maxChunkBytes   = 1 * gibibyte

	minControlTimeout = 1 * time.Second
	minChunkTimeout   = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found,
// joined, so a user can fix everything in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if len(a.Scopes) == 0 {
		errs = append(errs, errors.New("scopes: must list at least one scope"))
	}

	if a.RedirectURI != "" {
		errs = append(errs, validateURL("redirect_uri", a.RedirectURI)...)
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.Parallel < minParallel || t.Parallel > maxParallel {
		errs = append(errs, fmt.Errorf("parallel: must be between %d and %d, got %d",
			minParallel, maxParallel, t.Parallel))
	}

	errs = append(errs, validateChunkSize(t.ChunkSize)...)
	errs = append(errs, validateOneOf("progress", t.Progress, "auto", "always", "never")...)

	return errs
}

func validateChunkSize(s string) []error {
	bytes, err := ParseChunkSize(s)
	if err != nil {
		return []error{fmt.Errorf("chunk_size: %w", err)}
	}

	if bytes <= 0 || bytes > maxChunkBytes {
		return []error{fmt.Errorf("chunk_size: must be positive and at most 1GiB, got %s", s)}
	}

	if bytes%chunkAlignBytes != 0 {
		return []error{fmt.Errorf(
			"chunk_size: must be a multiple of 256 KiB (%d bytes), got %s (%d bytes)",
			chunkAlignBytes, s, bytes)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("control_timeout", n.ControlTimeout, minControlTimeout)...)
	errs = append(errs, validateDurationMin("chunk_timeout", n.ChunkTimeout, minChunkTimeout)...)
	errs = append(errs, validateURL("base_url", n.BaseURL)...)
	errs = append(errs, validateURL("upload_url", n.UploadURL)...)

	if n.UserAgent == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateOneOf("log_level", l.LogLevel, "debug", "info", "warn", "error")...)
	errs = append(errs, validateOneOf("log_format", l.LogFormat, "text", "json")...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateOneOf(field, value string, allowed ...string) []error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be one of %v; got %q", field, allowed, value)}
}
