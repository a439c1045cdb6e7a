package util

import (
	"fmt"
	"strings"
	"unicode"
)

// Slugify derives a stable identifier from a display name: lowercase,
// alphanumerics kept, everything else collapsed to single underscores.
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// MatchSlug builds the canonical slug for a match between two known teams.
func MatchSlug(team1, team2 string) string {
	return fmt.Sprintf("%s_vs_%s", team1, team2)
}

// BracketSlug builds the synthetic slug for a bracket-position placeholder,
// e.g. "wb-r2-m1".
func BracketSlug(bracket string, round, matchNumber int) string {
	return fmt.Sprintf("%s-r%d-m%d", bracket, round, matchNumber)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
