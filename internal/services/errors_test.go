package services_test

import (
	"errors"
	"strings"
	"testing"

	"registrar/internal/registry"
	"registrar/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProcessing, "execute", "Execute", "command failed", base)
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"execute", "Execute", "command failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestFailureReasonMapping(t *testing.T) {
	dataErr := services.Wrap(services.ErrData, "execute", "Execute", "missing argument", nil)
	if reason := services.FailureReason(dataErr); reason != registry.FailureData {
		t.Fatalf("expected DATA for data error, got %s", reason)
	}
	procErr := services.Wrap(nil, "execute", "Execute", "exit 1", errors.New("exit status 1"))
	if reason := services.FailureReason(procErr); reason != registry.FailureProcessing {
		t.Fatalf("expected PROCESSING for processing error, got %s", reason)
	}
	if reason := services.FailureReason(nil); reason != registry.FailureNone {
		t.Fatalf("expected NONE for nil error, got %s", reason)
	}
}
