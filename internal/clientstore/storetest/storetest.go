// Package storetest provides a shared test helper for creating a
// throwaway client store backed by a temp-file sqlite database.
package storetest

import (
	"testing"

	"github.com/cipherdesk/relay/internal/clientstore"
)

// New returns a migrated, empty Store for login backed by a database
// file under t.TempDir(). Close is registered via t.Cleanup automatically.
func New(t *testing.T, login string) *clientstore.Store {
	t.Helper()
	store, err := clientstore.Open(t.TempDir(), login)
	if err != nil {
		t.Fatalf("storetest: open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
