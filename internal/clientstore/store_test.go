package clientstore_test

import (
	"testing"

	"github.com/cipherdesk/relay/internal/clientstore"
	"github.com/cipherdesk/relay/internal/clientstore/storetest"
)

func TestAddContactIdempotent(t *testing.T) {
	store := storetest.New(t, "alice")

	if err := store.AddContact("bob"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := store.AddContact("bob"); err != nil {
		t.Fatalf("AddContact (duplicate): %v", err)
	}

	contacts, err := store.Contacts()
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0] != "bob" {
		t.Errorf("contacts = %v, want [bob]", contacts)
	}
}

func TestRemoveContact(t *testing.T) {
	store := storetest.New(t, "alice")
	if err := store.AddContact("bob"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := store.RemoveContact("bob"); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	has, err := store.HasContact("bob")
	if err != nil {
		t.Fatalf("HasContact: %v", err)
	}
	if has {
		t.Error("expected bob to be removed")
	}
}

func TestClearContactsOnOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := clientstore.Open(dir, "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.AddContact("bob"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	store.Close()

	store2, err := clientstore.Open(dir, "alice")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()

	contacts, err := store2.Contacts()
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("expected contacts cleared on reopen, got %v", contacts)
	}
}

func TestReplaceKnownUsers(t *testing.T) {
	store := storetest.New(t, "alice")
	if err := store.ReplaceKnownUsers([]string{"bob", "carol"}); err != nil {
		t.Fatalf("ReplaceKnownUsers: %v", err)
	}
	users, err := store.KnownUsers()
	if err != nil {
		t.Fatalf("KnownUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %v, want 2 entries", users)
	}

	if err := store.ReplaceKnownUsers([]string{"dave"}); err != nil {
		t.Fatalf("ReplaceKnownUsers (second call): %v", err)
	}
	has, err := store.HasUser("bob")
	if err != nil {
		t.Fatalf("HasUser: %v", err)
	}
	if has {
		t.Error("expected bob to have been replaced out of the roster")
	}
	has, err = store.HasUser("dave")
	if err != nil {
		t.Fatalf("HasUser: %v", err)
	}
	if !has {
		t.Error("expected dave to be in the roster")
	}
}

func TestAppendAndReadHistory(t *testing.T) {
	store := storetest.New(t, "alice")
	if err := store.AppendHistory("bob", clientstore.DirectionOut, "hello"); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := store.AppendHistory("bob", clientstore.DirectionIn, "hi there"); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	hist, err := store.History("bob")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Message != "hello" || hist[0].Direction != clientstore.DirectionOut {
		t.Errorf("first entry = %+v", hist[0])
	}
	if hist[1].Message != "hi there" || hist[1].Direction != clientstore.DirectionIn {
		t.Errorf("second entry = %+v", hist[1])
	}
}

func TestDBFileNamePerLogin(t *testing.T) {
	if got := clientstore.DBFileName("alice"); got != "client_alice.sqlite3" {
		t.Errorf("DBFileName = %q", got)
	}
}
