package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, NormalizeName(m)) {
			return true
		}
	}
	return false
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// SanitizePathComponent makes a scraped display name safe to use as a single
// component of an archive entry path. Path separators and control characters
// are replaced, inner whitespace runs are collapsed.
func SanitizePathComponent(name string) string {
	out := strings.Builder{}
	for _, c := range name {
		switch {
		case c == '/' || c == '\\':
			out.WriteRune('_')
		case c < 0x20 || c == 0x7f:
			// drop control characters entirely
		default:
			out.WriteRune(c)
		}
	}
	s := strings.Trim(out.String(), " \t\n.")
	s = innerWhitespace.ReplaceAllString(s, " ")
	if s == "" {
		return "unnamed"
	}
	return s
}
