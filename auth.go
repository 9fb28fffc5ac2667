package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/config"
	"github.com/tonimelisma/calsync/internal/gdata"
	"github.com/tonimelisma/calsync/internal/tokenfile"
)

var errNoClientID = errors.New("no OAuth client configured: pass --client-id or set client_id in the feed section")

type loginOptions struct {
	Account      string
	ClientID     string
	ClientSecret string
}

func newLoginCmd() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize a feed using the device code flow",
		Long: `Authorize a feed using the device code flow. The feed named by --feed
does not have to exist yet: login adds it to the config file.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), mustCLIContext(cmd.Context()), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "account label recorded for the feed")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "OAuth client id (saved to the config file)")
	cmd.Flags().StringVar(&opts.ClientSecret, "client-secret", "", "OAuth client secret (saved to the config file)")

	return cmd
}

func runLogin(ctx context.Context, cc *CLIContext, opts loginOptions) error {
	overrides := cc.cliOverrides()
	overrides.NewFeed = true

	resolved, err := config.Resolve(config.ReadEnvOverrides(), overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = resolved

	saved := config.Feed{
		Account:      opts.Account,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
	}

	creds := gdata.Credentials{
		ClientID:     firstSet(opts.ClientID, resolved.ClientID),
		ClientSecret: firstSet(opts.ClientSecret, resolved.ClientSecret),
	}
	if creds.ClientID == "" {
		return errNoClientID
	}

	account := firstSet(opts.Account, resolved.Account)

	cc.Logger.Info("login started", "feed", resolved.FeedName)

	meta := map[string]string{
		tokenfile.MetaFeed:    resolved.FeedName,
		tokenfile.MetaAccount: account,
	}

	_, err = gdata.Login(ctx, resolved.TokenFile, creds, meta, func(da gdata.DeviceAuth) {
		// Shown even with --quiet: the login cannot finish without it.
		fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
		fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)
	}, cc.Logger)
	if err != nil {
		return err
	}

	if err := config.SaveFeed(resolved.ConfigPath, resolved.FeedName, saved, cc.Logger); err != nil {
		return fmt.Errorf("saving feed to config: %w", err)
	}

	cc.Statusf("Login successful for feed %q.\n", resolved.FeedName)

	return nil
}

func newLogoutCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token of a feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(mustCLIContext(cmd.Context()), purge)
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "also remove the feed section from the config file")

	return cmd
}

func runLogout(cc *CLIContext, purge bool) error {
	cc.Logger.Info("logout started", "feed", cc.Cfg.FeedName)

	if err := gdata.Logout(cc.Cfg.TokenFile, cc.Logger); err != nil {
		return err
	}

	if purge {
		if err := config.RemoveFeed(cc.Cfg.ConfigPath, cc.Cfg.FeedName); err != nil {
			return fmt.Errorf("removing feed from config: %w", err)
		}

		cc.Statusf("Logged out and removed feed %q from %s.\n", cc.Cfg.FeedName, cc.Cfg.ConfigPath)

		return nil
	}

	cc.Statusf("Logged out of feed %q.\n", cc.Cfg.FeedName)

	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
