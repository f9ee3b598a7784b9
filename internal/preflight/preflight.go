package preflight

import (
	"context"
	"fmt"
	"strings"

	"registrar/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local checks the daemon needs before it starts. Name
// resolution of the advertised URL is left to CheckBaseURL so the daemon can
// start before DNS is ready.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
}

// Failed summarizes failed results as an error, or returns nil when every
// check passed.
func Failed(results []Result) error {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
}
