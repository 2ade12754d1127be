package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/drive-in/drive-in-go/internal/config"
	"github.com/drive-in/drive-in-go/internal/drive"
	"github.com/drive-in/drive-in-go/internal/sink"
)

// errNotLoggedIn is what users see when no usable token exists.
var errNotLoggedIn = fmt.Errorf("not logged in: run 'drive-in login' first: %w", drive.ErrNotLoggedIn)

// oauthSettings maps the [auth] section onto the login flows.
func oauthSettings(cfg *config.Resolved) drive.OAuthSettings {
	return drive.OAuthSettings{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Scopes:       cfg.Auth.Scopes,
		RedirectURI:  cfg.Auth.RedirectURI,
	}
}

// driveConfig maps the [network] section onto a client configuration.
func driveConfig(cfg *config.Resolved) drive.Config {
	return drive.Config{
		BaseURL:        cfg.Network.BaseURL,
		UploadURL:      cfg.Network.UploadURL,
		UserAgent:      cfg.Network.UserAgent,
		ControlTimeout: cfg.ControlTimeout,
		ChunkTimeout:   cfg.ChunkTimeout,
		FS:             sink.LocalFS(),
	}
}

// tokenSource prefers DRIVE_IN_TOKEN and falls back to the token file.
func tokenSource(ctx context.Context, cc *CLIContext) (drive.TokenSource, error) {
	if cc.Cfg.AccessToken != "" {
		cc.Logger.Debug("using access token from environment", "var", config.EnvToken)

		return drive.StaticToken(cc.Cfg.AccessToken), nil
	}

	ts, err := drive.TokenSourceFromPath(ctx, cc.Cfg.TokenPath, oauthSettings(cc.Cfg), cc.Logger)
	if errors.Is(err, drive.ErrNotLoggedIn) {
		return nil, errNotLoggedIn
	}

	return ts, err
}

// newDriveClient builds an authenticated client for the resolved config.
func newDriveClient(ctx context.Context, cc *CLIContext) (*drive.Client, error) {
	ts, err := tokenSource(ctx, cc)
	if err != nil {
		return nil, err
	}

	return drive.NewClient(driveConfig(cc.Cfg), cc.HTTPClient, ts, cc.Logger), nil
}
