package stt

import (
	"regexp"
	"strings"
)

// DefaultIgnore lists transcripts that are almost always background noise.
var DefaultIgnore = []string{"Thank you.", "Bye."}

var spaces = regexp.MustCompile(`\s+`)

type replacement struct {
	re *regexp.Regexp
	to string
}

// Cleaner fixes recurring mishearings and filters noise transcripts.
type Cleaner struct {
	replacements []replacement
	ignore       []string
}

// NewCleaner creates a Cleaner. Each key of replacements is matched as a
// whole word, ignoring case. A transcript containing any ignore phrase is
// treated as noise.
func NewCleaner(replacements map[string]string, ignore []string) *Cleaner {
	c := &Cleaner{ignore: ignore}
	for from, to := range replacements {
		if from = strings.TrimSpace(from); from == "" {
			continue
		}
		c.replacements = append(c.replacements, replacement{
			re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`),
			to: to,
		})
	}
	return c
}

// Clean applies the replacements and collapses whitespace.
func (c *Cleaner) Clean(text string) string {
	for _, r := range c.replacements {
		text = r.re.ReplaceAllLiteralString(text, r.to)
	}
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}

// Ignore reports whether text is noise.
func (c *Cleaner) Ignore(text string) bool {
	if text == "" {
		return true
	}
	for _, p := range c.ignore {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
