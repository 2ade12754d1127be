package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drive-in/drive-in-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Create a commented config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Set one config value, keeping comments intact",
		Example: `  drive-in config set transfers.chunk_size 8MiB
  drive-in config set history.enabled false`,
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, redactedConfig(cc.Cfg))
	}

	return config.RenderEffective(cc.Cfg, cc.Stdout)
}

// redactedConfig copies r with secrets masked, for JSON output.
func redactedConfig(r *config.Resolved) config.Resolved {
	out := *r

	if out.Auth.ClientSecret != "" {
		out.Auth.ClientSecret = "(redacted)"
	}

	if out.AccessToken != "" {
		out.AccessToken = "(redacted)"
	}

	return out
}

// configFilePath is the file init and set edit: --config, then
// DRIVE_IN_CONFIG, then the platform default.
func configFilePath(cc *CLIContext) string {
	if cc.Flags.ConfigPath != "" {
		return cc.Flags.ConfigPath
	}

	if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
		return env.ConfigPath
	}

	return config.DefaultConfigPath()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	path := configFilePath(cc)

	if err := config.WriteDefault(path, cc.Logger); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use 'drive-in config set' to change it)", err)
		}

		return err
	}

	cc.Statusf("Created %s\n", path)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	path := configFilePath(cc)

	section, key, ok := strings.Cut(args[0], ".")
	if !ok || section == "" || key == "" {
		return fmt.Errorf("invalid key %q: expected section.key, e.g. transfers.chunk_size", args[0])
	}

	if err := config.SetKey(path, section, key, args[1], cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Set %s.%s in %s\n", section, key, path)

	return nil
}
