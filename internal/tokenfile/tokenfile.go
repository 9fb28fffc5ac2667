// Package tokenfile stores one feed's OAuth2 token together with a small
// metadata map (account, feed name) recorded at login.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// Metadata keys written at login.
const (
	MetaAccount = "account"
	MetaFeed    = "feed"
)

const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// File is the on-disk JSON shape.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a token file. It returns (nil, nil, nil) when the file does
// not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	f, err := read(path)
	if err != nil || f == nil {
		return nil, nil, err
	}

	if f.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s has no token (login again)", path)
	}

	return f.Token, f.Meta, nil
}

// ReadMeta returns only the metadata, nil when the file does not exist.
func ReadMeta(path string) (map[string]string, error) {
	f, err := read(path)
	if err != nil || f == nil {
		return nil, err
	}

	return f.Meta, nil
}

// Save writes the token file atomically with owner-only permissions.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	return writeAtomic(path, data)
}

func read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // absent file is not an error
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return &f, nil
}

// writeAtomic writes to a temp file in the target directory, syncs it, and
// renames it over path.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	defer func() {
		if err != nil {
			tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(filePerms); err != nil {
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}
