package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes human readable lines:
//
//	2026-01-02T15:04:05Z INFO dispatcher [job 42 @ http://node1:8080]: job dispatched operation=Execute
//
// component, job_id, service_type and host are lifted out of the trailing
// key=value list into the line prefix.
type consoleHandler struct {
	out       *lockedWriter
	level     *slog.LevelVar
	preset    []field
	groups    []string
	addSource bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(p []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}
	fields := append([]field(nil), h.preset...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.groups, attr)
		return true
	})

	line := consoleLine{subject: map[string]string{}}
	for _, f := range fields {
		switch f.key {
		case FieldComponent, FieldJobID, FieldHost, FieldServiceType:
			if _, seen := line.subject[f.key]; !seen {
				line.subject[f.key] = plainValue(f.value)
			}
		default:
			line.rest = append(line.rest, f)
		}
	}

	when := record.Time
	if when.IsZero() {
		when = time.Now()
	}
	var b strings.Builder
	b.WriteString(when.UTC().Format(time.RFC3339))
	b.WriteString(" " + levelLabel(record.Level) + " ")
	b.WriteString(line.prefix())

	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)

	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range line.rest {
		b.WriteString(" " + f.key + "=" + quotedValue(f.value))
	}
	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append([]field(nil), h.preset...)
	for _, attr := range attrs {
		next.preset = appendField(next.preset, h.groups, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

type consoleLine struct {
	subject map[string]string
	rest    []field
}

// prefix renders "component [job N type @ host]: " with empty parts omitted.
func (l consoleLine) prefix() string {
	var scope []string
	if id := l.subject[FieldJobID]; id != "" {
		scope = append(scope, "job "+id)
	}
	if st := l.subject[FieldServiceType]; st != "" {
		scope = append(scope, st)
	}
	if host := l.subject[FieldHost]; host != "" {
		scope = append(scope, "@ "+host)
	}

	parts := make([]string, 0, 2)
	if component := l.subject[FieldComponent]; component != "" {
		parts = append(parts, component)
	}
	if len(scope) > 0 {
		parts = append(parts, "["+strings.Join(scope, " ")+"]")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ") + ": "
}

func appendField(dst []field, groups []string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := groups
		if attr.Key != "" {
			inner = append(append([]string(nil), groups...), attr.Key)
		}
		for _, member := range value.Group() {
			dst = appendField(dst, inner, member)
		}
		return dst
	}
	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return append(dst, field{key: key, value: value})
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quotedValue(v slog.Value) string {
	s := plainValue(v)
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
