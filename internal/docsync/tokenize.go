package docsync

import (
	"regexp"
	"strings"
)

var (
	numberRun = regexp.MustCompile(`[0-9.]+`)

	separators = strings.NewReplacer("/", " ", "_", " ")
)

// Tokenize splits a document name into the ordered tokens used for grouping.
// CamelCase boundaries are split first, then a space is inserted before each
// run of digits and decimal points, and finally the name is split on "/",
// space and "_". Empty tokens from consecutive separators are kept.
func Tokenize(name string) []string {
	s := splitCamelCase(name)
	s = numberRun.ReplaceAllString(s, " $0")
	s = separators.Replace(s)

	return strings.Split(s, " ")
}

// splitCamelCase inserts a space between an ASCII lowercase letter and an
// uppercase letter that is itself followed by a lowercase letter, so acronym
// runs such as "HTTPServer" stay together.
func splitCamelCase(s string) string {
	var b strings.Builder

	b.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		b.WriteByte(s[i])

		if i+2 < len(s) && isLower(s[i]) && isUpper(s[i+1]) && isLower(s[i+2]) {
			b.WriteByte(' ')
		}
	}

	return b.String()
}

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
