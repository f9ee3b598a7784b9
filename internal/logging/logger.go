package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"registrar/internal/config"
)

// Options describes logger construction parameters. OutputPaths and
// ErrorOutputPaths accept "stdout", "stderr" or file paths; both lists feed
// the same handler.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := opts.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}
	var sinks sinks
	for _, path := range append(append([]string(nil), outputs...), errOutputs...) {
		if err := sinks.add(path); err != nil {
			return nil, err
		}
	}

	addSource := opts.Development || level.Level() <= slog.LevelDebug
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		return slog.New(newJSONHandler(sinks.writer(), level, addSource)), nil
	case "", "console":
		return slog.New(newPrettyHandler(sinks.writer(), level, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig builds a logger writing to stdout and, when both the log
// directory and fileName are set, to <log_dir>/<fileName>.
func NewFromConfig(cfg *config.Config, fileName string) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}
	opts := Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Paths.LogDir != "" && fileName != "" {
		logPath := filepath.Join(cfg.Paths.LogDir, fileName)
		opts.OutputPaths = append(opts.OutputPaths, logPath)
		opts.ErrorOutputPaths = append(opts.ErrorOutputPaths, logPath)
	}
	return New(opts)
}

// ParseLevel maps a level name to a slog level; unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// sinks deduplicates log destinations so a file listed as both output and
// error output is opened once.
type sinks struct {
	seen    map[string]bool
	writers []io.Writer
}

func (s *sinks) add(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || s.seen[path] {
		return nil
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[path] = true

	switch path {
	case "stdout":
		s.writers = append(s.writers, os.Stdout)
		return nil
	case "stderr":
		s.writers = append(s.writers, os.Stderr)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	s.writers = append(s.writers, file)
	return nil
}

func (s *sinks) writer() io.Writer {
	switch len(s.writers) {
	case 0:
		return os.Stdout
	case 1:
		return s.writers[0]
	default:
		return io.MultiWriter(s.writers...)
	}
}
