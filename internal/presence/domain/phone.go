package domain

import "strings"

// NormalizePhone strips every non-digit rune, so "+1 (555) 123-4567"
// becomes "15551234567".
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
