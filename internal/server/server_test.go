package server_test

import (
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/cipherdesk/relay/internal/protocol"
	"github.com/cipherdesk/relay/internal/relaycrypto"
	"github.com/cipherdesk/relay/internal/server"
	"github.com/cipherdesk/relay/internal/serverstore/storetest"
	"github.com/cipherdesk/relay/internal/wire"
)

func startTestServer(t *testing.T) (*server.Engine, string) {
	t.Helper()
	store := storetest.New(t)
	engine := server.NewEngine(store, nil)
	ln, err := server.Listen("127.0.0.1:0", engine)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go engine.Run()
	go func() {
		if err := ln.Serve(); err != nil {
			t.Logf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		engine.Stop()
	})
	return engine, ln.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// login performs the full presence → challenge → response handshake for
// an already-registered account and returns once authenticated.
func login(t *testing.T, conn net.Conn, account, password string) {
	t.Helper()
	if err := wire.WriteFrame(conn, protocol.PresenceRequest(account, "PEM-PUBKEY", 1.0)); err != nil {
		t.Fatalf("write presence: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	code, _ := protocol.ResponseCode(resp)
	if code != protocol.ResponseAuth {
		t.Fatalf("expected 511 challenge, got %v", resp)
	}
	challenge := []byte(protocol.BinPayload(resp))
	hash, err := relaycrypto.HashPassword(password, account)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	digest := relaycrypto.ChallengeResponse(hash, challenge)
	if err := wire.WriteFrame(conn, protocol.AuthAnswer(base64.StdEncoding.EncodeToString(digest))); err != nil {
		t.Fatalf("write auth answer: %v", err)
	}
	ok, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read login result: %v", err)
	}
	if code, _ := protocol.ResponseCode(ok); code != protocol.ResponseOK {
		t.Fatalf("expected 200 after login, got %v", ok)
	}
}

func TestPresenceUnknownUserRejected(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)

	if err := wire.WriteFrame(conn, protocol.PresenceRequest("ghost", "PEM", 1.0)); err != nil {
		t.Fatalf("write presence: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if code, _ := protocol.ResponseCode(resp); code != protocol.ResponseError {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	engine, addr := startTestServer(t)
	if err := engine.RegisterUser("alice", "hunter2"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	conn := dial(t, addr)
	login(t, conn, "alice", "hunter2")

	active := engine.ListActiveUsers()
	if len(active) != 1 || active[0].Login != "alice" {
		t.Errorf("ListActiveUsers = %+v, want one entry for alice", active)
	}
}

func TestLoginWrongPasswordRejected(t *testing.T) {
	engine, addr := startTestServer(t)
	if err := engine.RegisterUser("alice", "hunter2"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	conn := dial(t, addr)

	if err := wire.WriteFrame(conn, protocol.PresenceRequest("alice", "PEM", 1.0)); err != nil {
		t.Fatalf("write presence: %v", err)
	}
	if _, err := wire.ReadFrame(conn); err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	if err := wire.WriteFrame(conn, protocol.AuthAnswer(base64.StdEncoding.EncodeToString([]byte("garbage")))); err != nil {
		t.Fatalf("write bad answer: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if code, _ := protocol.ResponseCode(resp); code != protocol.ResponseError {
		t.Fatalf("expected 400 for bad password, got %v", resp)
	}
}

func TestMessageRelayBetweenTwoClients(t *testing.T) {
	engine, addr := startTestServer(t)
	for _, user := range []string{"alice", "bob"} {
		if err := engine.RegisterUser(user, "pw"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", user, err)
		}
	}

	aliceConn := dial(t, addr)
	login(t, aliceConn, "alice", "pw")
	bobConn := dial(t, addr)
	login(t, bobConn, "bob", "pw")

	if err := wire.WriteFrame(aliceConn, protocol.MessageRequest("alice", "bob", "cipher-blob", 1.0)); err != nil {
		t.Fatalf("write message: %v", err)
	}
	ack, err := wire.ReadFrame(aliceConn)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if code, _ := protocol.ResponseCode(ack); code != protocol.ResponseOK {
		t.Fatalf("expected 200 ack, got %v", ack)
	}

	delivered, err := wire.ReadFrame(bobConn)
	if err != nil {
		t.Fatalf("read delivered message: %v", err)
	}
	from, to, text, ok := protocol.MessageFields(delivered)
	if !ok || from != "alice" || to != "bob" || text != "cipher-blob" {
		t.Errorf("delivered message = %+v", delivered)
	}
}

func TestMessageToUnregisteredRecipient(t *testing.T) {
	engine, addr := startTestServer(t)
	if err := engine.RegisterUser("alice", "pw"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	conn := dial(t, addr)
	login(t, conn, "alice", "pw")

	if err := wire.WriteFrame(conn, protocol.MessageRequest("alice", "ghost", "x", 1.0)); err != nil {
		t.Fatalf("write message: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if code, _ := protocol.ResponseCode(resp); code != protocol.ResponseError {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestContactsAddListRemove(t *testing.T) {
	engine, addr := startTestServer(t)
	for _, user := range []string{"alice", "bob"} {
		if err := engine.RegisterUser(user, "pw"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", user, err)
		}
	}
	conn := dial(t, addr)
	login(t, conn, "alice", "pw")

	if err := wire.WriteFrame(conn, protocol.AddRequest("alice", "bob", 1.0)); err != nil {
		t.Fatalf("write add: %v", err)
	}
	if resp, err := wire.ReadFrame(conn); err != nil || func() int { c, _ := protocol.ResponseCode(resp); return c }() != protocol.ResponseOK {
		t.Fatalf("add response: %v %v", resp, err)
	}

	if err := wire.WriteFrame(conn, protocol.GetContactsRequest("alice", 1.0)); err != nil {
		t.Fatalf("write get_contacts: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read contacts: %v", err)
	}
	contacts := protocol.StringList(resp)
	if len(contacts) != 1 || contacts[0] != "bob" {
		t.Errorf("contacts = %v, want [bob]", contacts)
	}

	if err := wire.WriteFrame(conn, protocol.RemoveRequest("alice", "bob", 1.0)); err != nil {
		t.Fatalf("write remove: %v", err)
	}
	if resp, err := wire.ReadFrame(conn); err != nil || func() int { c, _ := protocol.ResponseCode(resp); return c }() != protocol.ResponseOK {
		t.Fatalf("remove response: %v %v", resp, err)
	}
}

func TestPubkeyNeedReturnsStoredKey(t *testing.T) {
	engine, addr := startTestServer(t)
	if err := engine.RegisterUser("alice", "pw"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	conn := dial(t, addr)
	login(t, conn, "alice", "pw")

	other := dial(t, addr)
	if err := wire.WriteFrame(other, protocol.PubkeyNeedRequest("alice", 1.0)); err != nil {
		t.Fatalf("write pubkey_need: %v", err)
	}
	resp, err := wire.ReadFrame(other)
	if err != nil {
		t.Fatalf("read pubkey response: %v", err)
	}
	if code, _ := protocol.ResponseCode(resp); code != protocol.ResponseAuth {
		t.Fatalf("expected 511, got %v", resp)
	}
	if protocol.BinPayload(resp) != "PEM-PUBKEY" {
		t.Errorf("got key %q, want PEM-PUBKEY", protocol.BinPayload(resp))
	}
}

func TestDuplicateLoginRejected(t *testing.T) {
	engine, addr := startTestServer(t)
	if err := engine.RegisterUser("alice", "pw"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	first := dial(t, addr)
	login(t, first, "alice", "pw")

	second := dial(t, addr)
	if err := wire.WriteFrame(second, protocol.PresenceRequest("alice", "PEM", 1.0)); err != nil {
		t.Fatalf("write presence: %v", err)
	}
	resp, err := wire.ReadFrame(second)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if code, _ := protocol.ResponseCode(resp); code != protocol.ResponseError {
		t.Fatalf("expected 400 for duplicate login, got %v", resp)
	}
}

func TestRemoveUserDisconnectsSession(t *testing.T) {
	engine, addr := startTestServer(t)
	if err := engine.RegisterUser("alice", "pw"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	conn := dial(t, addr)
	login(t, conn, "alice", "pw")

	if err := engine.RemoveUser("alice"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}

	// The connection should observe EOF shortly after removal.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected connection to be closed after RemoveUser")
	}
}
