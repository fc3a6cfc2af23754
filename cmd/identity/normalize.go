package identity

import (
	"regexp"
	"strings"
)

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeSlug canonicalizes a tenant slug.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSlug reports whether s (already normalized) is an acceptable tenant slug.
func ValidSlug(s string) bool {
	return slugRe.MatchString(s)
}

func nilIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func trimmed(s string) string { return strings.TrimSpace(s) }

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
