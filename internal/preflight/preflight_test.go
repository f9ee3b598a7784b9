package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckRegistry_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/services/hosts.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckRegistry(context.Background(), srv.URL, "good-token")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckRegistry_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckRegistry(context.Background(), srv.URL, "bad")
	if result.Passed {
		t.Fatal("expected failure for bad token")
	}
	if !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckRegistry_MissingURL(t *testing.T) {
	if result := CheckRegistry(context.Background(), " ", ""); result.Passed {
		t.Fatal("expected failure for blank url")
	}
}

func TestCheckBaseURL(t *testing.T) {
	if result := CheckBaseURL("http://127.0.0.1:8181"); !result.Passed {
		t.Fatalf("expected loopback url to pass, got %s", result.Detail)
	}
	if result := CheckBaseURL("not a url"); result.Passed {
		t.Fatal("expected relative url to fail")
	}
}

func TestFailedCollectsDetails(t *testing.T) {
	if err := Failed([]Result{{Name: "a", Passed: true}}); err != nil {
		t.Fatalf("expected nil for passing results, got %v", err)
	}
	err := Failed([]Result{{Name: "a", Passed: true}, {Name: "State directory", Detail: "missing"}})
	if err == nil || !strings.Contains(err.Error(), "State directory: missing") {
		t.Fatalf("unexpected error %v", err)
	}
}
