package server

import (
	"fmt"

	"github.com/cipherdesk/relay/internal/relaycrypto"
	"github.com/cipherdesk/relay/internal/serverstore"
)

// controlRequest is how code outside the engine goroutine (the CLI's
// administration commands) safely reads or mutates engine state: fn
// runs inside Run's select loop, and done is closed once it returns.
type controlRequest struct {
	fn   func(*Engine)
	done chan struct{}
}

func (e *Engine) do(fn func(*Engine)) {
	req := controlRequest{fn: fn, done: make(chan struct{})}
	e.control <- req
	<-req.done
}

// ActiveUser describes one currently-connected, authenticated session.
type ActiveUser struct {
	Login string
	IP    string
	Port  int
}

// ListActiveUsers returns every authenticated session, the in-memory
// counterpart to serverstore.Store.ListAllUsers kept for operator
// symmetry between "registered" and "currently online".
func (e *Engine) ListActiveUsers() []ActiveUser {
	var out []ActiveUser
	e.do(func(e *Engine) {
		for login, cc := range e.sessions {
			out = append(out, ActiveUser{Login: login, IP: cc.remoteIP, Port: cc.remotePort})
		}
	})
	return out
}

// BroadcastRosterChanged pushes a 205 to every connected client, used
// after an operator registers or removes an account out-of-band.
func (e *Engine) BroadcastRosterChanged() {
	e.do(func(e *Engine) { e.broadcastRosterChanged() })
}

// RegisterUser hashes password and adds a new account to the store,
// then notifies connected clients that the roster changed.
func (e *Engine) RegisterUser(login, password string) error {
	hash, err := relaycrypto.HashPassword(password, login)
	if err != nil {
		return fmt.Errorf("server: register user: %w", err)
	}

	var storeErr error
	e.do(func(e *Engine) {
		exists, err := e.store.CheckExistingUser(login)
		if err != nil {
			storeErr = err
			return
		}
		if exists {
			storeErr = fmt.Errorf("server: register user: %q already exists", login)
			return
		}
		storeErr = e.store.RegisterUser(login, hash)
	})
	if storeErr != nil {
		return storeErr
	}

	e.BroadcastRosterChanged()
	return nil
}

// RemoveUser deletes an account from the store and disconnects it if it
// is currently online, then notifies the remaining clients that the
// roster changed.
func (e *Engine) RemoveUser(login string) error {
	var storeErr error
	e.do(func(e *Engine) {
		if cc, online := e.sessions[login]; online {
			e.disconnect(cc)
		}
		storeErr = e.store.RemoveUser(login)
	})
	if storeErr != nil {
		return fmt.Errorf("server: remove user: %w", storeErr)
	}

	e.BroadcastRosterChanged()
	return nil
}

// ListAllUsers returns every registered account.
func (e *Engine) ListAllUsers() ([]string, error) {
	users, err := e.store.ListAllUsers()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Login
	}
	return out, nil
}

// LoginHistory returns login-history entries, optionally filtered to a
// single user.
func (e *Engine) LoginHistory(login string) ([]serverstore.LoginHistoryEntry, error) {
	return e.store.LoginHistory(login)
}

// MessageCounters returns per-user sent/received message counts.
func (e *Engine) MessageCounters() ([]serverstore.ActionHistory, error) {
	return e.store.MessageCounters()
}

// Stop closes every tracked connection and stops the engine's run loop.
func (e *Engine) Stop() {
	e.do(func(e *Engine) {
		for _, cc := range e.conns {
			cc.conn.Close()
		}
	})
	close(e.stopCh)
}
