package worker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"registrar/internal/registry"
)

// OperationExecute is the operation handled by ExecProcessor.
const OperationExecute = "Execute"

// ErrData marks a failure caused by the job's input rather than by the
// worker. Such jobs fail with reason DATA and do not count against the
// service's failover state.
var ErrData = errors.New("invalid job data")

// Processor runs one job and returns its payload.
type Processor interface {
	Process(ctx context.Context, job *registry.Job) (string, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *registry.Job) (string, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job *registry.Job) (string, error) {
	return f(ctx, job)
}

// ExecProcessor runs Arguments[0] with the remaining arguments, without a
// shell, and returns the combined output. Only commands named in Allowed
// may run; they are matched by base name.
type ExecProcessor struct {
	Allowed []string
}

// Process executes the job's command.
func (p ExecProcessor) Process(ctx context.Context, job *registry.Job) (string, error) {
	if len(job.Arguments) == 0 || strings.TrimSpace(job.Arguments[0]) == "" {
		return "", fmt.Errorf("%w: no command given", ErrData)
	}
	command := job.Arguments[0]
	if !slices.Contains(p.Allowed, filepath.Base(command)) {
		return "", fmt.Errorf("%w: command %q is not allowed", ErrData, command)
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrData, err)
	}
	output, err := exec.CommandContext(ctx, path, job.Arguments[1:]...).CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("run %s: %w", command, err)
	}
	return string(output), nil
}
