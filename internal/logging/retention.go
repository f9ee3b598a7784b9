package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget selects log files to prune: files in Dir whose names match
// Pattern (all files when empty). Paths in Exclude are kept regardless of age.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes target files last modified more than retentionDays
// ago and returns how many were removed. retentionDays <= 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	keep := map[string]bool{}
	for _, target := range targets {
		for _, path := range target.Exclude {
			keep[absPath(path)] = true
		}
	}

	removed := 0
	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" {
			continue
		}
		pattern := strings.TrimSpace(target.Pattern)
		if pattern == "" {
			pattern = "*"
		}
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			path = absPath(path)
			if keep[path] {
				continue
			}
			if pruneIfExpired(logger, path, cutoff) {
				removed++
			}
		}
	}
	return removed
}

func pruneIfExpired(logger *slog.Logger, path string, cutoff time.Time) bool {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
		return false
	}
	if err := os.Remove(path); err != nil {
		WarnWithContext(logger, "expired log file not removed", "log_retention_failed",
			String("path", path),
			Error(err),
			String(FieldErrorHint, "check ownership of the log directory"),
			String(FieldImpact, "expired log file stays on disk"),
		)
		return false
	}
	if logger != nil {
		logger.Debug("expired log file removed", String("path", path), String(FieldEventType, "log_pruned"))
	}
	return true
}

func absPath(path string) string {
	path = strings.TrimSpace(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
