package app

import (
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are attribute names whose values are credentials. Matching is
// on the last dotted segment, case-insensitive, with "-" and "_" ignored.
var secretKeys = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"newpassword":   {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"token":         {},
	"authorization": {},
	"cookie":        {},
	"apikey":        {},
}

func isSecretKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	key = strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
	_, ok := secretKeys[key]
	return ok
}

// redactAttr is a slog ReplaceAttr that masks credential values.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindGroup && isSecretKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}
