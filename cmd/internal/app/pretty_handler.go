package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders one key=value line per record for local
// development. Credential attributes are masked, HTTP request fields are
// colored by outcome and the event name is tinted by subsystem.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	color  bool
	prefix string // dotted group path, "" at the root
	pre    []byte // attrs from WithAttrs, already rendered
	mu     *sync.Mutex
}

var prettyBufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := prettyBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer prettyBufPool.Put(buf)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(buf, "ts=%s lvl=%s msg=%s",
		paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		levelTag(r.Level, h.color),
		paint(r.Message, eventColor(r.Message), h.color),
	)

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			buf.WriteString(" src=")
			buf.WriteString(paint(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim, h.color))
		}
	}

	buf.Write(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	for _, a := range attrs {
		h.writeAttr(&buf, h.prefix, a)
	}
	cp := *h
	cp.pre = append(append([]byte{}, h.pre...), buf.Bytes()...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = joinKey(h.prefix, name)
	return &cp
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func (h *prettyHandler) writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if a.Equal(slog.Attr{}) || (key == "" && a.Value.Kind() != slog.KindGroup) {
		return
	}
	full := joinKey(prefix, key)
	if key == "" {
		full = prefix
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(buf, full, ga)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(displayKey(full))
	buf.WriteByte('=')
	if isSecretKey(full) {
		buf.WriteString(paint(redacted, ansiDim, h.color))
		return
	}
	buf.WriteString(h.formatValue(key, a.Value))
}

// displayKey shortens the request log fields.
func displayKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func (h *prettyHandler) formatValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path", "channel":
		return paint(quoteIfNeeded(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class", "class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	case "conn_id", "principal_id", "tenant_id", "lineage_id", "order_id", "request_id":
		return paint(valueToString(v), ansiDim, h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

// eventColor tints dotted event names by their subsystem.
func eventColor(msg string) string {
	area, _, _ := strings.Cut(msg, ".")
	switch area {
	case "auth", "authn":
		return ansiMagenta
	case "ws", "hub", "bus":
		return ansiCyan
	case "orders":
		return ansiGreen
	default:
		return ansiBright
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("[ERROR]", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("[WARN]", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("[DEBUG]", ansiMagenta, color)
	default:
		return paint("[INFO]", ansiBlue, color)
	}
}
