package relaycrypto

import "testing"

func TestHashPasswordDeterministic(t *testing.T) {
	h1, err := HashPassword("hunter2", "Alice")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("hunter2", "alice")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 != h2 {
		t.Error("expected salt to be case-insensitive on login")
	}
}

func TestHashPasswordDiffersByPassword(t *testing.T) {
	h1, _ := HashPassword("hunter2", "alice")
	h2, _ := HashPassword("hunter3", "alice")
	if h1 == h2 {
		t.Error("expected different passwords to hash differently")
	}
}

func TestHashPasswordRejectsEmptyLogin(t *testing.T) {
	if _, err := HashPassword("hunter2", ""); err != ErrEmptyLogin {
		t.Errorf("err = %v, want ErrEmptyLogin", err)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", "alice")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := VerifyPassword("hunter2", "alice", hash)
	if err != nil || !ok {
		t.Errorf("VerifyPassword = %v, %v, want true, nil", ok, err)
	}
	ok, err = VerifyPassword("wrong", "alice", hash)
	if err != nil || ok {
		t.Errorf("VerifyPassword = %v, %v, want false, nil", ok, err)
	}
}
