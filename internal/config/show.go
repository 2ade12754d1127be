package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secret values in rendered output.
const redacted = "(redacted)"

// RenderEffective writes the resolved configuration to w as annotated TOML.
// This powers "config show". Secrets are never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n", r.ConfigPath)

	if r.AccessToken != "" {
		ew.printf("# Access token supplied by %s; token_path is ignored.\n", EnvToken)
	}

	ew.printf("\n")

	renderAuthSection(ew, r)
	renderTransfersSection(ew, r)
	renderNetworkSection(ew, &r.Network)
	renderLoggingSection(ew, &r.Logging)
	renderHistorySection(ew, r)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAuthSection(ew *errWriter, r *Resolved) {
	a := &r.Auth

	ew.printf("[auth]\n")
	ew.printf("client_id     = %q\n", a.ClientID)

	if a.ClientSecret != "" {
		ew.printf("client_secret = %q\n", redacted)
	}

	ew.printf("scopes        = [%s]\n", joinQuoted(a.Scopes))

	if a.RedirectURI != "" {
		ew.printf("redirect_uri  = %q\n", a.RedirectURI)
	}

	ew.printf("token_path    = %q\n", r.TokenPath)
	ew.printf("\n")
}

func renderTransfersSection(ew *errWriter, r *Resolved) {
	t := &r.Transfers

	ew.printf("[transfers]\n")
	ew.printf("chunk_size = %q # %d bytes\n", t.ChunkSize, r.ChunkSize)
	ew.printf("parallel   = %d\n", t.Parallel)
	ew.printf("overwrite  = %t\n", t.Overwrite)
	ew.printf("progress   = %q\n", t.Progress)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("control_timeout = %q\n", n.ControlTimeout)
	ew.printf("chunk_timeout   = %q\n", n.ChunkTimeout)
	ew.printf("user_agent      = %q\n", n.UserAgent)
	ew.printf("base_url        = %q\n", n.BaseURL)
	ew.printf("upload_url      = %q\n", n.UploadURL)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", l.LogLevel)
	ew.printf("log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderHistorySection(ew *errWriter, r *Resolved) {
	ew.printf("[history]\n")
	ew.printf("enabled = %t\n", r.History.Enabled)
	ew.printf("path    = %q\n", r.HistoryPath)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
