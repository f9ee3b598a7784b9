package testsupport

import (
	"testing"

	"registrar/internal/config"
	"registrar/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
