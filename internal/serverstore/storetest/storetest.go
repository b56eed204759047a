// Package storetest provides a shared test helper for creating a
// throwaway server store backed by a temp-file sqlite database.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/cipherdesk/relay/internal/serverstore"
)

// New returns a migrated, empty Store backed by a database file under
// t.TempDir(). Close is registered via t.Cleanup automatically.
func New(t *testing.T) *serverstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.db")
	store, err := serverstore.Open(path)
	if err != nil {
		t.Fatalf("storetest: open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
