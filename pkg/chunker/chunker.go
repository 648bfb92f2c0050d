// Package chunker splits assistant replies into bounded spoken segments.
package chunker

import "strings"

// DefaultMaxWords is the segment word cap used when none is given.
const DefaultMaxWords = 60

// Segment is one chunk of text submitted independently for synthesis.
type Segment struct {
	Index int
	Text  string
}

// Split breaks text into segments of at most maxWords words, numbered from 0.
//
// When more words remain than fit in a window, the segment ends after the
// last word in the window that finishes with one of . ! ? ; : and falls back
// to the full window when none does. The final window is taken as is.
func Split(text string, maxWords int) []Segment {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	words := strings.Fields(text)
	var segments []Segment
	for i := 0; i < len(words); {
		end := min(i+maxWords, len(words))
		if end < len(words) {
			if p := lastClauseEnd(words[i:end]); p >= 0 {
				end = i + p + 1
			}
		}
		segments = append(segments, Segment{
			Index: len(segments),
			Text:  strings.Join(words[i:end], " "),
		})
		i = end
	}
	return segments
}

func lastClauseEnd(window []string) int {
	for j := len(window) - 1; j >= 0; j-- {
		if endsClause(window[j]) {
			return j
		}
	}
	return -1
}

func endsClause(word string) bool {
	switch word[len(word)-1] {
	case '.', '!', '?', ';', ':':
		return true
	}
	return false
}
