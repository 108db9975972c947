package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization. Lookup and
// uniqueness both run over the normalized form; the original casing is kept
// for display.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
