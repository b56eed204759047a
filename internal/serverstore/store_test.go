package serverstore_test

import (
	"errors"
	"testing"

	"github.com/cipherdesk/relay/internal/serverstore"
	"github.com/cipherdesk/relay/internal/serverstore/storetest"
)

func TestRegisterAndCheckExistingUser(t *testing.T) {
	store := storetest.New(t)

	ok, err := store.CheckExistingUser("alice")
	if err != nil {
		t.Fatalf("CheckExistingUser: %v", err)
	}
	if ok {
		t.Fatal("expected alice to not exist yet")
	}

	if err := store.RegisterUser("alice", "hashedpw"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	ok, err = store.CheckExistingUser("alice")
	if err != nil {
		t.Fatalf("CheckExistingUser: %v", err)
	}
	if !ok {
		t.Fatal("expected alice to exist after registration")
	}
}

func TestGetPasswordHashMissingUser(t *testing.T) {
	store := storetest.New(t)
	if _, err := store.GetPasswordHash("ghost"); !errors.Is(err, serverstore.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRecordLoginUpdatesHistoryAndKey(t *testing.T) {
	store := storetest.New(t)
	if err := store.RegisterUser("alice", "hashedpw"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if err := store.RecordLogin("alice", "127.0.0.1", 7777, "PEM-KEY"); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}

	key, err := store.GetPublicKey("alice")
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if key != "PEM-KEY" {
		t.Errorf("public key = %q, want PEM-KEY", key)
	}

	hist, err := store.LoginHistory("alice")
	if err != nil {
		t.Fatalf("LoginHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].IPAddress != "127.0.0.1" || hist[0].Port != 7777 {
		t.Errorf("unexpected history: %+v", hist)
	}
}

func TestRecordLoginUnregisteredUser(t *testing.T) {
	store := storetest.New(t)
	err := store.RecordLogin("ghost", "127.0.0.1", 1, "")
	if !errors.Is(err, serverstore.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestAddRemoveContactIdempotent(t *testing.T) {
	store := storetest.New(t)
	for _, login := range []string{"alice", "bob"} {
		if err := store.RegisterUser(login, "h"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", login, err)
		}
	}

	if err := store.AddContact("alice", "bob"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := store.AddContact("alice", "bob"); err != nil {
		t.Fatalf("AddContact (duplicate): %v", err)
	}

	contacts, err := store.ListContacts("alice")
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0] != "bob" {
		t.Errorf("contacts = %v, want [bob]", contacts)
	}

	if err := store.RemoveContact("alice", "bob"); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	if err := store.RemoveContact("alice", "bob"); err != nil {
		t.Fatalf("RemoveContact (already gone): %v", err)
	}

	contacts, err = store.ListContacts("alice")
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("contacts = %v, want empty", contacts)
	}
}

func TestRemoveUserCascades(t *testing.T) {
	store := storetest.New(t)
	for _, login := range []string{"alice", "bob"} {
		if err := store.RegisterUser(login, "h"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", login, err)
		}
	}
	if err := store.AddContact("alice", "bob"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := store.AddContact("bob", "alice"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	if err := store.RemoveUser("alice"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}

	ok, err := store.CheckExistingUser("alice")
	if err != nil {
		t.Fatalf("CheckExistingUser: %v", err)
	}
	if ok {
		t.Error("expected alice to be gone")
	}

	contacts, err := store.ListContacts("bob")
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("expected bob's reference to alice to be cascaded away, got %v", contacts)
	}
}

func TestRecordMessageCounters(t *testing.T) {
	store := storetest.New(t)
	for _, login := range []string{"alice", "bob"} {
		if err := store.RegisterUser(login, "h"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", login, err)
		}
	}

	if err := store.RecordMessage("alice", "bob"); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	if err := store.RecordMessage("alice", "bob"); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	counters, err := store.MessageCounters()
	if err != nil {
		t.Fatalf("MessageCounters: %v", err)
	}
	byUser := map[string]int{}
	for _, c := range counters {
		if c.User == "alice" {
			byUser["alice_sent"] = c.SentMessages
		}
		if c.User == "bob" {
			byUser["bob_received"] = c.ReceivedMessages
		}
	}
	if byUser["alice_sent"] != 2 {
		t.Errorf("alice sent = %d, want 2", byUser["alice_sent"])
	}
	if byUser["bob_received"] != 2 {
		t.Errorf("bob received = %d, want 2", byUser["bob_received"])
	}
}

func TestListAllUsers(t *testing.T) {
	store := storetest.New(t)
	for _, login := range []string{"bob", "alice"} {
		if err := store.RegisterUser(login, "h"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", login, err)
		}
	}
	users, err := store.ListAllUsers()
	if err != nil {
		t.Fatalf("ListAllUsers: %v", err)
	}
	if len(users) != 2 || users[0].Login != "alice" || users[1].Login != "bob" {
		t.Errorf("unexpected users: %+v", users)
	}
}
