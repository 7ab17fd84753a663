package app

import (
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

// prettyHandler renders one human-oriented line per record:
//
//	ts=15:04:05.000 lvl=[INFO] msg=http.request method=GET status=200 ...
//
// Well-known keys (HTTP fields, gate reasons, errors) are coloured when
// color is set; everything else is printed as key=value.
type prettyHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	color bool

	// prefix holds attrs added with WithAttrs, already rendered.
	prefix string
	group  string

	mu *sync.Mutex
}

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
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("ts=" + h.dim(ts.Format("15:04:05.000")))
	b.WriteString(" lvl=" + h.levelTag(r.Level))
	b.WriteString(" msg=" + h.bold(r.Message))

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=" + h.dim(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line)))
		}
	}

	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	for _, a := range attrs {
		h.writeAttr(&b, h.group, a)
	}
	cp := *h
	cp.prefix = h.prefix + b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.group = joinKey(h.group, name)
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		// Inline groups (empty key) splice their attrs into the parent.
		g := group
		if k := strings.TrimSpace(a.Key); k != "" {
			g = joinKey(group, k)
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, g, ga)
		}
		return
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(joinKey(group, displayKey(key)))
	b.WriteByte('=')
	b.WriteString(h.formatValue(key, a.Value))
}

// displayKey shortens the verbose keys the request logger emits.
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

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func (h *prettyHandler) formatValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return h.paint(ansiCyan, strings.TrimSpace(v.String()))
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "reason", "code":
		if s := plainValue(v); s != "" {
			return h.paint(ansiYellow, quoteIfNeeded(s))
		}
	case "err":
		return h.paint(ansiRed, quoteIfNeeded(plainValue(v)))
	}
	return quoteIfNeeded(plainValue(v))
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok && err != nil {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		// Int64, Uint64, Float64, Bool and Duration stringify the way we want.
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

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint(ansiRed, "[ERROR]")
	case level >= slog.LevelWarn:
		return h.paint(ansiYellow, "[WARN]")
	case level < slog.LevelInfo:
		return h.paint(ansiMagenta, "[DEBUG]")
	default:
		return h.paint(ansiBlue, "[INFO]")
	}
}

func (h *prettyHandler) paint(code, s string) string {
	if !h.color {
		return s
	}
	return code + s + ansiReset
}

func (h *prettyHandler) dim(s string) string  { return h.paint(ansiDim, s) }
func (h *prettyHandler) bold(s string) string { return h.paint(ansiBright, s) }
