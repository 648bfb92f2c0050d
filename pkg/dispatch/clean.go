package dispatch

import (
	"regexp"
	"strings"
)

// IgnoreSentinel in a reply means the model chose not to answer.
const IgnoreSentinel = "[IGNORING]"

var (
	reasoningBlock = regexp.MustCompile(`(?is)<(think|thinking|reasoning|analysis|memories)>.*?</(think|thinking|reasoning|analysis|memories)>`)
	markupTag      = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)
	boldMarker     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicMarker   = regexp.MustCompile(`\*([^*]+)\*`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// Clean turns a model reply into speakable text: reasoning blocks and tags
// are removed, emphasis markers dropped and whitespace collapsed.
func Clean(text string) string {
	text = reasoningBlock.ReplaceAllString(text, " ")
	text = markupTag.ReplaceAllString(text, " ")
	text = boldMarker.ReplaceAllString(text, "$1")
	text = italicMarker.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "**", "")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
