package inventory

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Folder strips Vietnamese diacritics and lower-cases text for matching.
//
// A Folder reuses its transformer and must not be shared between
// goroutines; the query engine owns one.
type Folder struct {
	t transform.Transformer
}

// NewFolder returns a ready Folder.
func NewFolder() *Folder {
	return &Folder{t: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)}
}

// Fold returns s trimmed, lower-cased, with combining marks removed and
// đ mapped to d.
func (f *Folder) Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	out, _, err := transform.String(f.t, s)
	if err != nil {
		out = s
	}
	return strings.ReplaceAll(out, "đ", "d")
}

// Fold is a convenience wrapper around a fresh Folder.
func Fold(s string) string {
	return NewFolder().Fold(s)
}
