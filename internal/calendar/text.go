package calendar

import (
	"strings"

	"github.com/samber/mo"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText is the single conversion from wire strings to optional
// fields: surrounding whitespace is trimmed, the text is NFC-normalized, and
// a blank result becomes absent.
func NormalizeText(s string) mo.Option[string] {
	return mo.EmptyableToOption(norm.NFC.String(strings.TrimSpace(s)))
}

// NormalizeRequired applies the same cleanup to a mandatory field.
func NormalizeRequired(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
