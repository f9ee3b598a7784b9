package main

import (
	"strings"
	"testing"
)

func TestStatusLabel(t *testing.T) {
	cases := map[string]string{
		"INSTANTIATED": "Instantiated",
		"WARNING":      "Warning",
		"DISPATCHING":  "Dispatching",
		"":             "-",
	}
	for in, want := range cases {
		if got := statusLabel(in); got != want {
			t.Fatalf("statusLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("Registrar", statusOK, "Running", false)
	if !strings.Contains(line, "Registrar:") || !strings.Contains(line, "[OK] Running") {
		t.Fatalf("unexpected line %q", line)
	}
	colored := renderStatusLine("Registrar", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
	if statusKindFromSeverity("WARN") != statusWarn || statusKindFromSeverity("bogus") != statusInfo {
		t.Fatal("unexpected severity mapping")
	}
}

func TestBuildJobCountRowsOrder(t *testing.T) {
	rows := buildJobCountRows(map[string]int{
		"FAILED":  2,
		"QUEUED":  1,
		"RUNNING": 0,
		"LEGACY":  4,
	})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %v", rows)
	}
	if rows[0][0] != "Queued" || rows[1][0] != "Failed" || rows[2][0] != "Legacy" {
		t.Fatalf("unexpected order %v", rows)
	}
}

func TestParseOnOff(t *testing.T) {
	for _, value := range []string{"on", "TRUE", "yes"} {
		if got, err := parseOnOff(value); err != nil || !got {
			t.Fatalf("parseOnOff(%q) = %v, %v", value, got, err)
		}
	}
	if got, err := parseOnOff("off"); err != nil || got {
		t.Fatalf("parseOnOff(off) = %v, %v", got, err)
	}
	if _, err := parseOnOff("later"); err == nil {
		t.Fatal("expected error")
	}
}
