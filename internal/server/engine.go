// Package server implements the relay's connection broker: the single
// goroutine that owns the session table and the account store, fed by
// one reader goroutine per accepted connection.
//
// There is deliberately no locking around session state: every read and
// mutation of the session table happens inside the engine's run loop,
// which processes exactly one connEvent or controlRequest at a time.
// Concurrency lives entirely at the edges, in the reader goroutines and
// in the control surface used by cmd/relay-server.
package server

import (
	"encoding/base64"
	"log/slog"
	"net"

	"github.com/cipherdesk/relay/internal/protocol"
	"github.com/cipherdesk/relay/internal/relaycrypto"
	"github.com/cipherdesk/relay/internal/serverstore"
	"github.com/cipherdesk/relay/internal/wire"
)

// connState tracks where a single connection sits in the authentication
// handshake.
type connState int

const (
	stateUnauth connState = iota
	stateChallengeSent
	stateAuthenticated
	stateClosed
)

// clientConn is the engine's view of one accepted TCP connection. It is
// only ever read or mutated from the engine goroutine.
type clientConn struct {
	id            string
	conn          net.Conn
	state         connState
	login         string
	challenge     []byte
	pendingPubkey string
	remoteIP      string
	remotePort    int
}

// Engine is the server's single-owner connection broker.
type Engine struct {
	store   *serverstore.Store
	log     *slog.Logger
	events  chan connEvent
	control chan controlRequest
	stopCh  chan struct{}
	stopped chan struct{}

	conns    map[string]*clientConn // keyed by connection id
	sessions map[string]*clientConn // keyed by authenticated login
}

// NewEngine creates an Engine backed by store. log may be nil, in which
// case slog.Default() is used.
func NewEngine(store *serverstore.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    store,
		log:      log,
		events:   make(chan connEvent, 256),
		control:  make(chan controlRequest),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
		conns:    make(map[string]*clientConn),
		sessions: make(map[string]*clientConn),
	}
}

// Run is the engine's main loop: the sole goroutine that ever reads or
// mutates the session table, and the only one that writes the account
// store (ListAllUsers, LoginHistory and MessageCounters read the store
// from the caller's goroutine). It returns once Stop has been called.
//
// events is generously buffered (see NewEngine) so that a reader
// goroutine whose connection closes just as Stop runs can still deliver
// its final error event and exit, rather than leaking blocked on a send
// nobody will ever receive.
func (e *Engine) Run() {
	for {
		select {
		case ev := <-e.events:
			e.handleEvent(ev)
		case req := <-e.control:
			req.fn(e)
			close(req.done)
		case <-e.stopCh:
			close(e.stopped)
			return
		}
	}
}

// Stopped returns a channel closed once Run has exited.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}

func (e *Engine) handleEvent(ev connEvent) {
	cc, ok := e.conns[ev.id]
	if !ok {
		return // connection already cleaned up
	}
	if ev.err != nil {
		e.disconnect(cc)
		return
	}
	e.dispatch(cc, ev.frame)
}

// dispatch routes one decoded frame to the handler for its action, or
// treats it as a challenge answer if the connection is mid-handshake.
func (e *Engine) dispatch(cc *clientConn, f wire.Frame) {
	if cc.state == stateChallengeSent {
		e.handleChallengeResponse(cc, f)
		return
	}

	action, hasAction := protocol.Action(f)
	if !hasAction {
		e.reply(cc, protocol.BadRequest())
		return
	}

	switch action {
	case protocol.ActionPresence:
		e.handlePresence(cc, f)
	case protocol.ActionMessage:
		e.handleMessage(cc, f)
	case protocol.ActionExit:
		e.handleExit(cc, f)
	case protocol.ActionGetContacts:
		e.handleGetContacts(cc, f)
	case protocol.ActionGetUsers:
		e.handleGetUsers(cc, f)
	case protocol.ActionAdd:
		e.handleAdd(cc, f)
	case protocol.ActionRemove:
		e.handleRemove(cc, f)
	case protocol.ActionPubkeyNeed:
		e.handlePubkeyNeed(cc, f)
	default:
		e.reply(cc, protocol.BadRequest())
	}
}

func (e *Engine) handlePresence(cc *clientConn, f wire.Frame) {
	account, pubkeyPEM, ok := protocol.PresenceFields(f)
	if !ok {
		e.reply(cc, protocol.BadRequest())
		return
	}
	log := e.log.With("conn_id", cc.id, "account", account)

	if _, taken := e.sessions[account]; taken {
		log.Debug("presence rejected: account already connected")
		e.reply(cc, protocol.ErrorFrame("account already logged in"))
		e.disconnect(cc)
		return
	}

	exists, err := e.store.CheckExistingUser(account)
	if err != nil {
		log.Error("check existing user", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		return
	}
	if !exists {
		log.Debug("presence rejected: account not registered")
		e.reply(cc, protocol.ErrorFrame("account not registered"))
		return
	}

	challenge, err := relaycrypto.GenerateChallenge()
	if err != nil {
		log.Error("generate challenge", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		return
	}

	cc.state = stateChallengeSent
	cc.login = account
	cc.challenge = challenge
	cc.pendingPubkey = pubkeyPEM

	e.reply(cc, protocol.AuthFrame(relaycrypto.EncodeHex(challenge)))
}

func (e *Engine) handleChallengeResponse(cc *clientConn, f wire.Frame) {
	log := e.log.With("conn_id", cc.id, "account", cc.login)

	code, ok := protocol.ResponseCode(f)
	if !ok || code != protocol.ResponseAuth {
		log.Debug("challenge response rejected: malformed")
		e.reply(cc, protocol.ErrorFrame("bad password"))
		cc.state = stateUnauth
		e.disconnect(cc)
		return
	}

	digestB64 := protocol.BinPayload(f)
	clientDigest, err := base64.StdEncoding.DecodeString(digestB64)
	if err != nil {
		log.Debug("challenge response rejected: bad base64")
		e.reply(cc, protocol.ErrorFrame("bad password"))
		e.disconnect(cc)
		return
	}

	passwordHash, err := e.store.GetPasswordHash(cc.login)
	if err != nil {
		log.Error("get password hash", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		e.disconnect(cc)
		return
	}

	// HMAC'd over the hex string actually put on the wire, not the raw
	// random bytes behind it.
	if !relaycrypto.CheckResponse(passwordHash, []byte(relaycrypto.EncodeHex(cc.challenge)), clientDigest) {
		log.Debug("challenge response rejected: wrong password")
		e.reply(cc, protocol.ErrorFrame("bad password"))
		e.disconnect(cc)
		return
	}

	cc.state = stateAuthenticated
	e.sessions[cc.login] = cc
	e.reply(cc, protocol.OKFrame())

	if err := e.store.RecordLogin(cc.login, cc.remoteIP, cc.remotePort, cc.pendingPubkey); err != nil {
		log.Error("record login", "error", err)
	}
	log.Info("authenticated")
}

func (e *Engine) handleMessage(cc *clientConn, f wire.Frame) {
	from, to, _, ok := protocol.MessageFields(f)
	if !ok || cc.state != stateAuthenticated || from != cc.login {
		e.reply(cc, protocol.BadRequest())
		return
	}

	recipient, online := e.sessions[to]
	if !online {
		e.reply(cc, protocol.ErrorFrame("recipient not registered on server"))
		return
	}

	if err := wire.WriteFrame(recipient.conn, f); err != nil {
		e.log.Error("forward message", "conn_id", recipient.id, "error", err)
		e.disconnect(recipient)
		e.reply(cc, protocol.ErrorFrame("recipient not registered on server"))
		return
	}
	if err := e.store.RecordMessage(from, to); err != nil {
		e.log.Error("record message", "error", err)
	}
	e.reply(cc, protocol.OKFrame())
}

func (e *Engine) handleExit(cc *clientConn, f wire.Frame) {
	if _, ok := protocol.ExitFields(f); !ok {
		e.reply(cc, protocol.BadRequest())
		return
	}
	e.disconnect(cc)
}

func (e *Engine) handleGetContacts(cc *clientConn, f wire.Frame) {
	user, ok := protocol.GetContactsFields(f)
	if !ok || cc.state != stateAuthenticated || user != cc.login {
		e.reply(cc, protocol.BadRequest())
		return
	}
	contacts, err := e.store.ListContacts(user)
	if err != nil {
		e.log.Error("list contacts", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		return
	}
	e.reply(cc, protocol.ListFrame(contacts))
}

func (e *Engine) handleGetUsers(cc *clientConn, f wire.Frame) {
	account, ok := protocol.GetUsersFields(f)
	if !ok || cc.state != stateAuthenticated || account != cc.login {
		e.reply(cc, protocol.BadRequest())
		return
	}
	users, err := e.store.ListAllUsers()
	if err != nil {
		e.log.Error("list all users", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		return
	}
	logins := make([]string, len(users))
	for i, u := range users {
		logins[i] = u.Login
	}
	e.reply(cc, protocol.ListFrame(logins))
}

func (e *Engine) handleAdd(cc *clientConn, f wire.Frame) {
	user, target, ok := protocol.AddRemoveFields(f)
	if !ok || cc.state != stateAuthenticated || user != cc.login {
		e.reply(cc, protocol.BadRequest())
		return
	}
	if err := e.store.AddContact(user, target); err != nil {
		e.log.Error("add contact", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		return
	}
	e.reply(cc, protocol.OKFrame())
}

func (e *Engine) handleRemove(cc *clientConn, f wire.Frame) {
	user, target, ok := protocol.AddRemoveFields(f)
	if !ok || cc.state != stateAuthenticated || user != cc.login {
		e.reply(cc, protocol.BadRequest())
		return
	}
	if err := e.store.RemoveContact(user, target); err != nil {
		e.log.Error("remove contact", "error", err)
		e.reply(cc, protocol.ErrorFrame("internal error"))
		return
	}
	e.reply(cc, protocol.OKFrame())
}

func (e *Engine) handlePubkeyNeed(cc *clientConn, f wire.Frame) {
	account, ok := protocol.PubkeyNeedFields(f)
	if !ok {
		e.reply(cc, protocol.BadRequest())
		return
	}
	key, err := e.store.GetPublicKey(account)
	if err != nil || key == "" {
		e.reply(cc, protocol.ErrorFrame("missing user's public key"))
		return
	}
	e.reply(cc, protocol.AuthFrame(key))
}

// reply writes a frame back to cc, disconnecting it on write failure
// exactly as the original server does on any OSError while sending.
func (e *Engine) reply(cc *clientConn, f wire.Frame) {
	if err := wire.WriteFrame(cc.conn, f); err != nil {
		e.disconnect(cc)
	}
}

// disconnect tears down cc: removes it from the session table, closes
// the socket, and lets the reader goroutine notice the close on its own.
func (e *Engine) disconnect(cc *clientConn) {
	if cc.state == stateClosed {
		return
	}
	cc.state = stateClosed
	if cc.login != "" && e.sessions[cc.login] == cc {
		delete(e.sessions, cc.login)
	}
	delete(e.conns, cc.id)
	cc.conn.Close()
	e.log.Info("disconnected", "conn_id", cc.id, "account", cc.login)
}

// broadcastRosterChanged sends a 205 to every session authenticated on
// this engine, sent after RegisterUser/RemoveUser so its live clients
// refresh their contact and user lists.
func (e *Engine) broadcastRosterChanged() {
	for _, cc := range e.sessions {
		if err := wire.WriteFrame(cc.conn, protocol.RosterChangedFrame()); err != nil {
			e.disconnect(cc)
		}
	}
}
