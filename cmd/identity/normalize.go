package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeID trims provider-issued identifiers. Provider ids are opaque and
// case-sensitive, so no case folding is applied.
func NormalizeID(s string) string {
	return strings.TrimSpace(s)
}
