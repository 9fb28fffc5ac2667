package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// The file may carry client secrets, so it is owner-only.
const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// configTemplate is written once, when login creates the file. Later edits
// are line-level and keep user changes.
const configTemplate = `# calsync configuration

# [sync]
# poll_interval = "5m"
# workers = 4
# stale_after = "720h"
# max_occurrences = 5000

# [logging]
# log_level = "info"
# log_format = "auto"

# [network]
# timeout = "30s"

# [server]
# listen = "127.0.0.1:8765"

# Feeds are added by 'calsync login'.
`

func feedHeader(name string) string {
	return fmt.Sprintf("[feeds.%s]", name)
}

// feedKeys returns the non-empty fields of f as ordered TOML key lines.
func feedKeys(f Feed) [][2]string {
	all := [][2]string{
		{"account", f.Account},
		{"token_file", f.TokenFile},
		{"calendar_feed_url", f.CalendarFeedURL},
		{"client_id", f.ClientID},
		{"client_secret", f.ClientSecret},
	}

	out := all[:0]

	for _, kv := range all {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}

	return out
}

// SaveFeed writes the non-empty fields of f under [feeds.<name>], creating
// the file or the section as needed. Other keys and comments are kept.
func SaveFeed(path, name string, f Feed, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("creating config file", slog.String("path", path), slog.String("feed", name))

		return atomicWriteFile(path, []byte(configTemplate+feedSection(name, f)))
	}

	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine := findSectionHeader(lines, name)
	if headerLine < 0 {
		logger.Info("appending feed section", slog.String("path", path), slog.String("feed", name))

		content := string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		return atomicWriteFile(path, []byte(content+feedSection(name, f)))
	}

	for _, kv := range feedKeys(f) {
		lines = setKeyInSection(lines, headerLine, kv[0], fmt.Sprintf("%s = %q", kv[0], kv[1]))
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// RemoveFeed deletes the [feeds.<name>] section and the blank lines above
// it. A missing file or section is not an error.
func RemoveFeed(path, name string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine := findSectionHeader(lines, name)
	if headerLine < 0 {
		return nil
	}

	end := findSectionEnd(lines, headerLine+1)

	start := headerLine
	for start > 0 && strings.TrimSpace(lines[start-1]) == "" {
		start--
	}

	lines = append(lines[:start], lines[end:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

func feedSection(name string, f Feed) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n", feedHeader(name))

	for _, kv := range feedKeys(f) {
		fmt.Fprintf(&b, "%s = %q\n", kv[0], kv[1])
	}

	return b.String()
}

func findSectionHeader(lines []string, name string) int {
	header := feedHeader(name)

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index just past the section's own lines.
// Blank and comment lines before the next header belong to that header.
func findSectionEnd(lines []string, sectionStart int) int {
	next := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			next = i

			break
		}
	}

	end := next
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			break
		}

		end--
	}

	return end
}

// setKeyInSection replaces the key's line within the section or inserts it
// right after the header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	end := findSectionEnd(lines, headerLine+1)

	for i := headerLine + 1; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
			lines[i] = newLine

			return lines
		}
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:headerLine+1]...)
	out = append(out, newLine)

	return append(out, lines[headerLine+1:]...)
}

// atomicWriteFile writes through a temp file in the target directory and
// renames it into place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmp := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Chmod(configFilePermissions); err != nil {
		f.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
