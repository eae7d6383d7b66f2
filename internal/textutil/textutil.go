// Package textutil normalizes raw input text before it is tokenized into a
// sentence.
package textutil

import (
	"regexp"
	"strings"
)

// Format and control characters other than whitespace, e.g. zero-width
// joiners and byte order marks.
var invisibleRe = regexp.MustCompile(`[\p{Cf}\x00-\x08\x0e-\x1f\x7f]`)

// NormalizeWhitespaces drops invisible characters, replaces newlines and runs
// of whitespace (Unicode spaces included) with a single space and trims the
// ends.
func NormalizeWhitespaces(text string) string {
	text = invisibleRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Normalize lowercases text and normalizes whitespace.
func Normalize(text string) string {
	return NormalizeWhitespaces(strings.ToLower(text))
}

// Clean applies NormalizeWhitespaces, or Normalize when lowercase is set.
func Clean(text string, lowercase bool) string {
	if lowercase {
		return Normalize(text)
	}
	return NormalizeWhitespaces(text)
}
