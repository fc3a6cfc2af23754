package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Subject is what the policy knows about the principal a secret belongs to.
// Empty fields are ignored.
type Subject struct {
	Email       string
	DisplayName string
}

// identityMinRunes is the shortest identity fragment worth matching.
const identityMinRunes = 4

// commonSecrets are rejected outright when RejectVeryWeak is on.
var commonSecrets = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"letmein":     {},
	"tearoom":     {},
	"tearoom123":  {},
}

// Validate checks length and, when enabled, the weak-pattern rules.
func (c Config) Validate(secret string) error {
	return c.ValidateFor(secret, Subject{})
}

// ValidateFor is Validate plus a check that secret does not embed the
// subject's email local part or display name (case-insensitive).
func (c Config) ValidateFor(secret string, sub Subject) error {
	n := utf8.RuneCountInString(secret)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	if !c.Policy.RejectVeryWeak {
		return nil
	}
	if looksVeryWeak(secret) {
		return ErrWeakPassword
	}
	if embedsIdentity(secret, sub) {
		return ErrPasswordMatchesIdentity
	}
	return nil
}

func looksVeryWeak(secret string) bool {
	s := strings.ToLower(strings.TrimSpace(secret))
	if s == "" {
		return true
	}
	if _, ok := commonSecrets[s]; ok {
		return true
	}
	if first, _ := utf8.DecodeRuneInString(s); strings.TrimLeft(s, string(first)) == "" {
		return true
	}
	// Short PIN-like secrets.
	return utf8.RuneCountInString(s) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

func embedsIdentity(secret string, sub Subject) bool {
	lower := strings.ToLower(secret)
	for _, frag := range identityFragments(sub) {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func identityFragments(sub Subject) []string {
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if utf8.RuneCountInString(s) >= identityMinRunes {
			out = append(out, s)
		}
	}
	if local, _, ok := strings.Cut(sub.Email, "@"); ok {
		add(local)
	}
	add(sub.DisplayName)
	for _, word := range strings.Fields(sub.DisplayName) {
		add(word)
	}
	return out
}
