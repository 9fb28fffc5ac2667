package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/tonimelisma/calsync/internal/reconcile"
)

// idPrefixLen is how much of a conflict id the table shows.
const idPrefixLen = 8

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatTime returns a compact local timestamp; "never" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format("2006-01-02 15:04")
}

func formatOptionalTime(t mo.Option[time.Time]) string {
	return formatTime(t.OrEmpty())
}

func formatCounts(c reconcile.Counts) string {
	return fmt.Sprintf("%d created, %d updated, %d conflicted, %d unchanged, %d errors",
		c.Created, c.Updated, c.Conflicted, c.Unchanged, c.Errors)
}

func truncateID(id string) string {
	if len(id) <= idPrefixLen {
		return id
	}

	return id[:idPrefixLen]
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printTable writes aligned columns. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
