package util

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const fallbackSlug = "board"

// Slugify lowercases value, folds it to ASCII, drops punctuation and joins
// words with single hyphens.
func Slugify(value string) string {
	decomposed := norm.NFKD.String(value)

	var b strings.Builder
	pendingHyphen := false
	for _, r := range decomposed {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r) || r == '-':
			pendingHyphen = true
		}
	}
	return strings.Trim(b.String(), "-_")
}

// UniqueSlug returns base, or base-1, base-2, ... for the first candidate
// that exists reports as free.
func UniqueSlug(base string, exists func(string) (bool, error)) (string, error) {
	if base == "" {
		base = fallbackSlug
	}
	candidate := base
	for counter := 1; ; counter++ {
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}
