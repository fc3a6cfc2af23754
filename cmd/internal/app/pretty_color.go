package app

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRe.ReplaceAllString(s, "") }

func paint(s, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + ansiReset
}

func colorizeHTTPMethod(m string, enabled bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiBlue, enabled)
	case "POST":
		return paint(m, ansiGreen, enabled)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, enabled)
	case "DELETE":
		return paint(m, ansiRed, enabled)
	default:
		return paint(m, ansiMagenta, enabled)
	}
}

func colorizeStatusCode(code int, enabled bool) string {
	s := itoa(code)
	switch {
	case code >= 500:
		return paint(s, ansiRed, enabled)
	case code >= 400:
		return paint(s, ansiYellow, enabled)
	case code >= 300:
		return paint(s, ansiCyan, enabled)
	default:
		return paint(s, ansiGreen, enabled)
	}
}

func colorizeStatusClass(class string, enabled bool) string {
	switch class {
	case "5xx":
		return paint(class, ansiRed, enabled)
	case "4xx":
		return paint(class, ansiYellow, enabled)
	case "3xx":
		return paint(class, ansiCyan, enabled)
	default:
		return paint(class, ansiGreen, enabled)
	}
}

func colorizeDurationMS(ms int64, enabled bool) string {
	s := (time.Duration(ms) * time.Millisecond).String()
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, enabled)
	case ms >= 250:
		return paint(s, ansiYellow, enabled)
	default:
		return paint(s, ansiDim, enabled)
	}
}

func colorizeResult(result string, enabled bool) string {
	switch {
	case result == "success" || result == "ok":
		return paint(result, ansiGreen, enabled)
	case strings.Contains(result, "server"), strings.Contains(result, "fail"):
		return paint(result, ansiRed, enabled)
	case strings.Contains(result, "client"), strings.Contains(result, "denied"):
		return paint(result, ansiYellow, enabled)
	default:
		return result
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}

func itoa(n int) string { return valueToString(slog.IntValue(n)) }
