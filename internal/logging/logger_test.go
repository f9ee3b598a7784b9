package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"registrar/internal/config"
	"registrar/internal/logging"
	"registrar/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "registrard.log")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("registry started", logging.String("node", "n1"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "registrard.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "registry started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "subject.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "dispatcher").Info("job dispatched",
		logging.Int64(logging.FieldJobID, 42),
		logging.String(logging.FieldHost, "http://node1:8080"),
		logging.String("operation", "Execute"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "dispatcher [job 42 @ http://node1:8080]: job dispatched") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "operation=Execute") {
		t.Fatalf("expected trailing attributes, got %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("k", "v"), logging.Duration("took", 1500*time.Millisecond))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["msg"] != "json message" || entry["level"] != "info" || entry["k"] != "v" {
		t.Fatalf("unexpected json entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry["took"] != "1.5s" {
		t.Fatalf("duration should be written as a string, got %v", entry["took"])
	}
}

func TestJSONLoggerSourceKey(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("with source")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	src, _ := entry["src"].(string)
	if !strings.HasPrefix(src, "logger_test.go:") || entry["level"] != "debug" {
		t.Fatalf("unexpected debug entry %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type recordingHandler struct {
	attrs []slog.Attr
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool {
		h.attrs = append(h.attrs, a)
		return true
	})
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 123)
	ctx = services.WithHost(ctx, "http://node1:8080")
	ctx = services.WithRequestID(ctx, "req-xyz")

	fields := logging.ContextFields(ctx)
	want := map[string]string{
		logging.FieldJobID:         "123",
		logging.FieldHost:          "http://node1:8080",
		logging.FieldCorrelationID: "req-xyz",
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %v", len(want), fields)
	}
	for _, f := range fields {
		if want[f.Key] != f.Value.String() {
			t.Fatalf("field %s = %q, want %q", f.Key, f.Value.String(), want[f.Key])
		}
	}

	handler := &recordingHandler{}
	logger := logging.WithContext(ctx, slog.New(handler))
	if logger.Handler() == slog.Handler(handler) {
		t.Fatal("expected derived handler carrying context attributes")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	handler := &recordingHandler{}
	logging.WarnWithContext(slog.New(handler), "heartbeat failed", "heartbeat_failed", logging.String(logging.FieldImpact, "service marked offline"))

	got := map[string]string{}
	for _, a := range handler.attrs {
		got[a.Key] = a.Value.String()
	}
	if got[logging.FieldEventType] != "heartbeat_failed" {
		t.Fatalf("expected event type, got %v", got)
	}
	if got[logging.FieldErrorHint] == "" {
		t.Fatalf("expected default error hint, got %v", got)
	}
	if got[logging.FieldImpact] != "service marked offline" {
		t.Fatalf("expected caller impact preserved, got %v", got)
	}
}

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "registrard-old.log")
	current := filepath.Join(dir, "registrard.log")
	for _, path := range []string{old, current} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		past := time.Now().AddDate(0, 0, -10)
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "registrard*.log",
		Exclude: []string{current},
	})
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("expected active log kept: %v", err)
	}
	if got := logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir}); got != 0 {
		t.Fatalf("expected retention 0 to disable pruning, got %d", got)
	}
}
