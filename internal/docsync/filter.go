package docsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Filter selects documents by status and name.
type Filter struct {
	// Statuses limits the selection to these states. Empty selects all.
	Statuses []Status
	// Name is a case-insensitive substring match on the document name.
	Name string
}

// Match reports whether doc passes the filter.
func (f Filter) Match(doc *Document) bool {
	if len(f.Statuses) > 0 {
		found := false

		for _, s := range f.Statuses {
			if doc.Status == s {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	if f.Name != "" && !strings.Contains(strings.ToLower(doc.Name), strings.ToLower(f.Name)) {
		return false
	}

	return true
}

// ParseStatuses parses a comma separated status list.
func ParseStatuses(s string) ([]Status, error) {
	var out []Status

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		st, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}

		out = append(out, st)
	}

	return out, nil
}

// Fingerprint identifies a selection by the names it contains, in order.
// Callers compare fingerprints to skip regrouping an unchanged selection.
func Fingerprint(docs []*Document) string {
	h := sha256.New()
	for _, d := range docs {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// SelectForIgnore returns the documents whose ignore flag differs from the
// requested one, so a bulk ignore only touches documents it would change.
func SelectForIgnore(docs []*Document, ignore bool) []*Document {
	var out []*Document

	for _, d := range docs {
		if d.Ignore != ignore {
			out = append(out, d)
		}
	}

	return out
}

// DefaultIgnorePatterns is the ignore list applied to newly discovered pages
// when none is configured. Entries starting with "!" are exceptions.
var DefaultIgnorePatterns = []string{
	"CamelCase",
	"PageTemplates",
	"RecentChanges",
	"SandBox",
	"TitleIndex",
	"Trac.*",
	"Inter.*",
	"Wiki.*",
	"!WikiStart$",
}

// IgnoreFilter decides the initial ignore flag of newly discovered pages.
// Patterns match at the start of the name. A name matching any exception
// pattern is never ignored.
type IgnoreFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewIgnoreFilter compiles the patterns.
func NewIgnoreFilter(patterns []string) (*IgnoreFilter, error) {
	f := &IgnoreFilter{}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		exception := strings.HasPrefix(p, "!")
		if exception {
			p = p[1:]
		}

		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("compiling ignore pattern %q: %w", p, err)
		}

		if exception {
			f.exclude = append(f.exclude, re)
		} else {
			f.include = append(f.include, re)
		}
	}

	return f, nil
}

// Matches reports whether name should start out ignored.
func (f *IgnoreFilter) Matches(name string) bool {
	if f == nil {
		return false
	}

	for _, re := range f.exclude {
		if re.MatchString(name) {
			return false
		}
	}

	for _, re := range f.include {
		if re.MatchString(name) {
			return true
		}
	}

	return false
}
