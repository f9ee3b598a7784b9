package services

import (
	"errors"
	"fmt"
	"strings"

	"registrar/internal/registry"
)

var (
	// ErrData marks failures caused by the job's input rather than the service.
	ErrData = errors.New("data error")
	// ErrProcessing marks failures of the processing service itself.
	ErrProcessing = errors.New("processing error")
	// ErrUnsupported marks operations a job producer does not handle.
	ErrUnsupported = errors.New("unsupported operation")
	ErrTimeout     = errors.New("timeout")
)

// Wrap builds an error message that includes operation context while tagging it
// with the provided marker for later failure classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, serviceType, operation, message string, err error) error {
	detail := buildDetail(serviceType, operation, message)
	if marker == nil {
		marker = ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureReason maps a processor error to the failure reason recorded on the
// job. Data failures do not count against the service's health.
func FailureReason(err error) registry.FailureReason {
	switch {
	case err == nil:
		return registry.FailureNone
	case errors.Is(err, ErrData):
		return registry.FailureData
	default:
		return registry.FailureProcessing
	}
}

func buildDetail(serviceType, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{serviceType, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "job failure"
	}
	return strings.Join(parts, ": ")
}
