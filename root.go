package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/drive-in/drive-in-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run even when the config
// file is missing or invalid ("config init").
const skipConfigAnnotation = "skipConfig"

// CLIFlags holds the persistent flag values.
type CLIFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	JSON       bool
	ChunkSize  string
	Parallel   int
	Progress   string
}

// CLIContext is built once per invocation by the root pre-run hook and
// handed to every command through the command context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved // nil for skipConfig commands
	Logger *slog.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	HTTPClient *http.Client

	// openURL launches the system browser. Tests replace it.
	openURL func(string) error
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run hook.
// Commands always run after that hook, so a missing context is a bug.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext not initialized")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "drive-in",
		Short: "Google Drive chunked transfer client",
		Long: `Upload and download Google Drive files in resumable chunks.

Files are addressed by ID or by any sharing URL that contains the ID.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initCLIContext(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.StringVar(&flags.ChunkSize, "chunk-size", "", `chunk size, e.g. "8MiB" (a bare number is MiB)`)
	pf.IntVar(&flags.Parallel, "parallel", 0, "concurrent transfers when several files are given")
	pf.StringVar(&flags.Progress, "progress", "", "progress bars: auto, always, never")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// initCLIContext resolves configuration (unless the command opts out),
// builds the logger, and stores the CLIContext on the command.
func initCLIContext(cmd *cobra.Command, flags CLIFlags) error {
	cc := &CLIContext{
		Flags:      flags,
		Stdin:      cmd.InOrStdin(),
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		HTTPClient: &http.Client{},
		openURL:    openBrowser,
	}

	if cmd.Annotations[skipConfigAnnotation] != "true" {
		resolved, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd, flags))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = resolved
	}

	cc.Logger = buildLogger(cc.Cfg, flags, cc.Stderr)
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

// cliOverrides passes only the flags the user actually set.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	pf := cmd.Flags()

	if pf.Changed("chunk-size") {
		cli.ChunkSize = &flags.ChunkSize
	}

	if pf.Changed("parallel") {
		cli.Parallel = &flags.Parallel
	}

	if pf.Changed("progress") {
		cli.Progress = &flags.Progress
	}

	return cli
}

// buildLogger creates the logger writing to w. The config file sets the
// baseline level and format; --verbose and --quiet override the level.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	format := "text"

	if cfg != nil {
		format = cfg.Logging.LogFormat

		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
