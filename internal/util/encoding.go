package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKC form of s with surrounding whitespace removed.
// Usernames are compared in this form so visually identical input matches.
func Normalize(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}
