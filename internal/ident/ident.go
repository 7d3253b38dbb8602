// Package ident derives stable record identifiers from titles.
package ident

import (
	"fmt"
	"strings"
)

// maxSlugLen caps slug length so ids stay usable as file names.
const maxSlugLen = 80

// maxCollisionAttempts bounds suffix probing in GenerateUniqueID.
const maxCollisionAttempts = 1000

// asciiFold maps common accented runes to their ASCII base form.
var asciiFold = map[rune]string{
	'à': "a", 'á': "a", 'â': "a", 'ä': "a", 'ã': "a", 'å': "a", 'ā': "a", 'ă': "a", 'ą': "a",
	'ç': "c", 'ć': "c", 'č': "c",
	'ď': "d", 'đ': "d",
	'è': "e", 'é': "e", 'ê': "e", 'ë': "e", 'ē': "e", 'ė': "e", 'ę': "e", 'ě': "e",
	'ì': "i", 'í': "i", 'î': "i", 'ï': "i", 'ī': "i", 'į': "i",
	'ł': "l", 'ľ': "l",
	'ñ': "n", 'ń': "n", 'ň': "n",
	'ò': "o", 'ó': "o", 'ô': "o", 'ö': "o", 'õ': "o", 'ø': "o", 'ō': "o",
	'ŕ': "r", 'ř': "r",
	'ś': "s", 'š': "s", 'ş': "s", 'ß': "ss",
	'ť': "t", 'ţ': "t",
	'ù': "u", 'ú': "u", 'û': "u", 'ü': "u", 'ū': "u", 'ů': "u", 'ű': "u",
	'ý': "y", 'ÿ': "y",
	'ź': "z", 'ż': "z", 'ž': "z",
	'æ': "ae", 'œ': "oe", 'þ': "th",
}

// Slug converts a title to a lowercase, hyphen-separated identifier segment:
// diacritics are folded to ASCII, characters outside [a-z0-9-] are dropped,
// whitespace and hyphen runs collapse to a single hyphen, and the result is
// trimmed and capped at 80 characters without a trailing hyphen.
// Slug is idempotent: Slug(Slug(s)) == Slug(s).
func Slug(title string) string {
	var b strings.Builder
	pendingHyphen := false

	writeHyphen := func() {
		if b.Len() > 0 {
			pendingHyphen = true
		}
	}

	for _, r := range strings.ToLower(title) {
		if folded, ok := asciiFold[r]; ok {
			if pendingHyphen {
				b.WriteByte('-')
				pendingHyphen = false
			}
			b.WriteString(folded)
			continue
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen {
				b.WriteByte('-')
				pendingHyphen = false
			}
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '-' || r == '_' || r == '.' || r == '/':
			writeHyphen()
		default:
			// Dropped entirely; does not act as a separator.
		}
	}

	s := b.String()
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

// GenerateID returns "<type>-<slug>" for the given title. A redundant type
// prefix in the title ("Gotcha: Edge Case" for type gotcha) is stripped first
// so the id does not repeat the type.
func GenerateID(typ, title string) string {
	s := Slug(stripTypePrefix(typ, title))
	if s == "" {
		s = "untitled"
	}
	return typ + "-" + s
}

// stripTypePrefix removes a leading "<type>", "<type>:" or "<type> -" token
// from title, case-insensitively.
func stripTypePrefix(typ, title string) string {
	trimmed := strings.TrimSpace(title)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, strings.ToLower(typ)) {
		return title
	}
	rest := trimmed[len(typ):]
	restTrimmed := strings.TrimLeft(rest, " \t")
	switch {
	case rest == "":
		return ""
	case strings.HasPrefix(restTrimmed, ":") || strings.HasPrefix(restTrimmed, "-"):
		return strings.TrimLeft(restTrimmed[1:], " \t")
	case len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t'):
		return restTrimmed
	default:
		// Title merely starts with the same letters ("gotchas galore").
		return title
	}
}

// ResolveCollision returns candidate unchanged when free, otherwise the
// candidate with the lowest unused integer suffix appended. Gap-filling:
// given existing {s, s-2} the result is s-1, not s-3.
func ResolveCollision(candidate string, exists func(string) bool) (string, error) {
	if !exists(candidate) {
		return candidate, nil
	}
	for i := 1; i <= maxCollisionAttempts; i++ {
		next := fmt.Sprintf("%s-%d", candidate, i)
		if !exists(next) {
			return next, nil
		}
	}
	return "", fmt.Errorf("ident: no free id after %d attempts for %q", maxCollisionAttempts, candidate)
}

// GenerateUniqueID combines GenerateID and ResolveCollision. The returned id
// is guaranteed free per the exists callback at the time of the call.
func GenerateUniqueID(typ, title string, exists func(string) bool) (string, error) {
	return ResolveCollision(GenerateID(typ, title), exists)
}
