package util

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SecureFilename reduces name to a safe single path component made of
// ASCII letters, digits, dots, dashes and underscores. Accented letters are
// folded to their ASCII base, path separators and whitespace runs become a
// single underscore. It returns "" when nothing usable remains.
func SecureFilename(name string) string {
	var folded strings.Builder
	for _, r := range norm.NFKD.String(name) {
		switch {
		case r == '/', r == '\\':
			folded.WriteByte(' ')
		case r <= unicode.MaxASCII:
			folded.WriteRune(r)
		}
	}
	joined := strings.Join(strings.Fields(folded.String()), "_")

	var b strings.Builder
	for _, r := range joined {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" || out == "." || out == ".." {
		return ""
	}
	return out
}

// FileExtension returns the lower-cased extension of name without the dot.
func FileExtension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
