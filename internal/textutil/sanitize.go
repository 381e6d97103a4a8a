package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeIdentifier converts an arbitrary label (author name, gallery
// folder, source category) into a name usable as a SQL table or column
// identifier. The input is NFKC-normalized so full-width and compatibility
// forms collapse onto their canonical letters; every rune that is not a
// letter or digit becomes an underscore and a leading digit is prefixed with
// an underscore. Empty input yields "_".
func SanitizeIdentifier(value string) string {
	value = norm.NFKC.String(strings.TrimSpace(value))
	if value == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(value) + 1)
	for i, r := range value {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Letters are lowercased, digits and hyphens/underscores are kept, everything
// else becomes an underscore. Returns "unknown" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

// QuoteIdentifier wraps name in double quotes for use in SQL statements,
// doubling any embedded quote characters.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
