package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

const feedsSection = "feeds"

// knownSectionKeys lists the valid keys of each global section.
var knownSectionKeys = map[string][]string{
	"sync":    {"force", "max_occurrences", "poll_interval", "stale_after", "workers"},
	"logging": {"log_format", "log_level"},
	"network": {"timeout", "user_agent"},
	"storage": {"database"},
	"server":  {"listen"},
}

// knownFeedKeys lists the valid keys inside a [feeds.<name>] section.
var knownFeedKeys = []string{"account", "calendar_feed_url", "client_id", "client_secret", "token_file"}

// knownSections is the sorted list of top-level tables.
var knownSections = func() []string {
	s := []string{feedsSection}
	for k := range knownSectionKeys {
		s = append(s, k)
	}

	slices.Sort(s)

	return s
}()

// checkUnknownKeys turns every undecoded key into an error, suggesting the
// closest valid key where one is near enough.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reportedSections := make(map[string]bool)

	for _, key := range md.Undecoded() {
		if len(key) == 0 {
			continue
		}

		section := key[0]

		switch {
		case section == feedsSection:
			if len(key) >= 3 {
				errs = append(errs, unknownKeyError(key[2], "feeds."+key[1], knownFeedKeys))
			}
		case knownSectionKeys[section] != nil:
			if len(key) >= 2 {
				errs = append(errs, unknownKeyError(key[1], section, knownSectionKeys[section]))
			}
		case !reportedSections[section]:
			reportedSections[section] = true
			errs = append(errs, unknownKeyError(section, "", knownSections))
		}
	}

	return errors.Join(errs...)
}

func unknownKeyError(name, section string, known []string) error {
	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", section)
	}

	if suggestion := closestMatch(name, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q%s: did you mean %q?", name, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", name, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
