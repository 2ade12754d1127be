package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drive-in/drive-in-go/internal/drive"
	"github.com/drive-in/drive-in-go/internal/tokenfile"
)

const aboutUserFields = "user(displayName,emailAddress),storageQuota(limit,usage)"

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Drive",
		Long: `Authorize drive-in with your Google account.

By default a browser window opens for the consent screen and the result is
received on a local port. With --paste, a consent URL is printed instead and
the access token shown after consent is read from stdin; such tokens cannot
be refreshed and expire after about an hour.

An existing token is reused if the API still accepts it.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("paste", false, "print a consent URL and paste the resulting token")
	cmd.Flags().Bool("force", false, "log in again even if the saved token works")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user and storage quota",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	paste, _ := cmd.Flags().GetBool("paste")
	force, _ := cmd.Flags().GetBool("force")
	settings := oauthSettings(cc.Cfg)

	if !force {
		_, err := drive.CachedClient(ctx, driveConfig(cc.Cfg), cc.HTTPClient, cc.Cfg.TokenPath, settings, cc.Logger)
		if err == nil {
			cc.Statusf("Already logged in (token: %s). Use --force to log in again.\n", cc.Cfg.TokenPath)
			return nil
		}

		if !errors.Is(err, drive.ErrNotLoggedIn) {
			return err
		}
	}

	var (
		ts   drive.TokenSource
		err  error
		flow string
	)

	if paste {
		flow = "paste"
		ts, err = pasteLogin(cc, settings)
	} else {
		flow = "browser"
		ts, err = drive.LoginWithBrowser(ctx, cc.Cfg.TokenPath, settings, cc.openURL, cc.Logger)
	}

	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cc.Logger.Info("login successful", "flow", flow)

	client := drive.NewClient(driveConfig(cc.Cfg), cc.HTTPClient, ts, cc.Logger)

	who, err := fetchAbout(ctx, client)
	if err != nil {
		// The token is saved; identity is only cosmetic.
		cc.Logger.Warn("could not fetch account details", "error", err)
		cc.Statusf("Login successful.\n")

		return nil
	}

	if err := tokenfile.MergeMeta(cc.Cfg.TokenPath, map[string]string{
		"email":        who.Email,
		"display_name": who.DisplayName,
	}); err != nil {
		cc.Logger.Warn("could not save account details", "error", err)
	}

	cc.Statusf("Logged in as %s (%s).\n", who.DisplayName, who.Email)

	return nil
}

// pasteLogin prints the implicit-grant URL and reads the token from stdin.
func pasteLogin(cc *CLIContext, settings drive.OAuthSettings) (drive.TokenSource, error) {
	authURL, state := drive.PasteURL(settings)

	// Prompts must be visible even with --quiet.
	fmt.Fprintf(cc.Stderr, "Open this URL in your browser and authorize access:\n%s\n\n", authURL)
	fmt.Fprintf(cc.Stderr, "Request state: %s\n", state)
	fmt.Fprint(cc.Stderr, "Paste the access token: ")

	scanner := bufio.NewScanner(cc.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading token: %w", err)
		}

		return nil, errors.New("no token entered")
	}

	return drive.SavePastedToken(cc.Cfg.TokenPath, strings.TrimSpace(scanner.Text()), cc.Logger)
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := drive.Logout(cc.Cfg.TokenPath, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// aboutInfo is the subset of the about resource shown by whoami.
type aboutInfo struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	QuotaUsage  int64  `json:"quota_usage"`
	QuotaLimit  int64  `json:"quota_limit"` // 0 when unlimited
	Flow        string `json:"login_flow,omitempty"`
}

func fetchAbout(ctx context.Context, client *drive.Client) (*aboutInfo, error) {
	res, err := client.Request(ctx, http.MethodGet, "about", map[string]string{"fields": aboutUserFields}, nil)
	if err != nil {
		return nil, err
	}

	if !res.Success {
		return nil, apiError("fetching account details", res)
	}

	info := &aboutInfo{}

	if user, ok := res.Data["user"].(map[string]any); ok {
		info.DisplayName, _ = user["displayName"].(string)
		info.Email, _ = user["emailAddress"].(string)
	}

	if quota, ok := res.Data["storageQuota"].(map[string]any); ok {
		info.QuotaUsage = int64Field(quota, "usage")
		info.QuotaLimit = int64Field(quota, "limit")
	}

	return info, nil
}

// int64Field reads an int64 that Drive encodes as a decimal string.
func int64Field(m map[string]any, key string) int64 {
	s, _ := m[key].(string)
	n, _ := strconv.ParseInt(s, 10, 64)

	return n
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	client, err := newDriveClient(ctx, cc)
	if err != nil {
		return err
	}

	who, err := fetchAbout(ctx, client)
	if err != nil {
		return err
	}

	if cc.Cfg.AccessToken == "" {
		meta, metaErr := tokenfile.ReadMeta(cc.Cfg.TokenPath)
		if metaErr != nil {
			cc.Logger.Warn("reading token metadata", "error", metaErr)
		}

		who.Flow = meta["flow"]
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, who)
	}

	fmt.Fprintf(cc.Stdout, "User:  %s (%s)\n", who.DisplayName, who.Email)

	quota := "unlimited"
	if who.QuotaLimit > 0 {
		quota = formatSize(who.QuotaLimit)
	}

	fmt.Fprintf(cc.Stdout, "Quota: %s / %s\n", formatSize(who.QuotaUsage), quota)

	if who.Flow != "" {
		fmt.Fprintf(cc.Stdout, "Login: %s\n", who.Flow)
	}

	return nil
}
