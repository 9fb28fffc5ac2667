package gdata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	gosync "sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tonimelisma/calsync/internal/tokenfile"
)

// calendarScope grants read/write access to the calendar feeds.
const calendarScope = "https://www.google.com/calendar/feeds/"

// Credentials identify the OAuth client registered for the installation.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// DeviceAuth holds what the user must see to approve a device login.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Login performs the OAuth2 device flow, saves the token (with meta) to
// tokenPath, and returns a TokenSource that persists refreshed tokens.
func Login(
	ctx context.Context,
	tokenPath string,
	creds Credentials,
	meta map[string]string,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	return doLogin(ctx, tokenPath, oauthConfig(creds), meta, display, logger)
}

func doLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	meta map[string]string,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting device code auth flow", slog.String("path", tokenPath))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("gdata: device auth request failed: %w", err)
	}

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("gdata: device code authorization failed: %w", err)
	}

	if err := tokenfile.Save(tokenPath, tok, meta); err != nil {
		return nil, fmt.Errorf("gdata: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newPersistingSource(ctx, cfg, tok, tokenPath, meta, logger), nil
}

// TokenSourceFromPath loads a saved token. It returns ErrNotLoggedIn when
// no token file exists. ctx must outlive the returned source: refreshes
// run on it.
func TokenSourceFromPath(ctx context.Context, tokenPath string, creds Credentials, logger *slog.Logger) (TokenSource, error) {
	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, fmt.Errorf("%w: no token at %s", ErrNotLoggedIn, tokenPath)
	}

	logger.Debug("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())),
	)

	return newPersistingSource(ctx, oauthConfig(creds), tok, tokenPath, meta, logger), nil
}

// Logout removes the token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))
		return nil
	}

	if err != nil {
		return fmt.Errorf("gdata: removing token: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

func oauthConfig(creds Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{calendarScope},
		Endpoint:     google.Endpoint,
	}
}

// persistingSource hands out access tokens and writes every refreshed token
// back to its file.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger

	mu   gosync.Mutex
	last string
}

func newPersistingSource(
	ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token,
	path string, meta map[string]string, logger *slog.Logger,
) *persistingSource {
	return &persistingSource{
		src:    cfg.TokenSource(ctx, tok),
		path:   path,
		meta:   meta,
		logger: logger,
		last:   tok.AccessToken,
	}
}

func (s *persistingSource) Token() (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("gdata: obtaining token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken != s.last {
		s.last = tok.AccessToken

		if err := tokenfile.Save(s.path, tok, s.meta); err != nil {
			s.logger.Warn("failed to persist refreshed token",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("persisted refreshed token",
				slog.String("path", s.path),
				slog.Time("expiry", tok.Expiry),
			)
		}
	}

	return tok.AccessToken, nil
}
