// Package client implements the relay client's protocol engine: the
// connect/authenticate handshake, request/response call pattern, and
// the background receive loop that watches for messages and roster
// change notifications pushed by the server between calls.
package client

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cipherdesk/relay/internal/clientstore"
	"github.com/cipherdesk/relay/internal/protocol"
	"github.com/cipherdesk/relay/internal/relaycrypto"
	"github.com/cipherdesk/relay/internal/wire"
)

const (
	dialAttempts    = 5
	dialRetryDelay  = time.Second
	dialTimeout     = 5 * time.Second
	pollInterval    = time.Second
	pollReadTimeout = 500 * time.Millisecond
)

// ErrConnectFailed is returned by Connect after exhausting dialAttempts.
var ErrConnectFailed = errors.New("client: failed to establish connection to server")

// ErrServer wraps an application-level 400 response from the server.
type ErrServer struct {
	Message string
}

func (e *ErrServer) Error() string { return fmt.Sprintf("server error: %s", e.Message) }

// EventKind distinguishes the shapes of value delivered on a Client's
// Events channel, the Go-idiomatic replacement for the original's Qt
// signals (new_msg_signal, msg_205_signal, connection_lost).
type EventKind int

const (
	EventMessage EventKind = iota
	EventRosterChanged
	EventConnectionLost
)

// Event is one asynchronous notification from the receive loop.
type Event struct {
	Kind EventKind
	From string // set for EventMessage
	Text string // set for EventMessage, already decrypted
}

// Client is one authenticated connection to the relay server.
type Client struct {
	conn  net.Conn
	mu    sync.Mutex // guards conn reads/writes; held across each request/response pair
	login string
	priv  *rsa.PrivateKey
	store *clientstore.Store
	log   *slog.Logger

	Events chan Event

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Connect dials addr:port with retry, performs the presence/challenge
// handshake for login, and starts the background receive loop.
func Connect(addr string, port int, login, password string, priv *rsa.PrivateKey, store *clientstore.Store, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	target := net.JoinHostPort(addr, fmt.Sprintf("%d", port))

	var conn net.Conn
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		log.Info("connection attempt", "attempt", attempt, "target", target)
		conn, err = net.DialTimeout("tcp", target, dialTimeout)
		if err == nil {
			break
		}
		time.Sleep(dialRetryDelay)
	}
	if err != nil {
		log.Error("failed to establish connection to server", "error", err)
		return nil, ErrConnectFailed
	}

	c := &Client{
		conn:   conn,
		login:  login,
		priv:   priv,
		store:  store,
		log:    log,
		Events: make(chan Event, 16),
		stopCh: make(chan struct{}),
	}

	if err := c.authenticate(password); err != nil {
		conn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

func (c *Client) authenticate(password string) error {
	pubkeyPEM, err := relaycrypto.EncodePublicKeyPEM(&c.priv.PublicKey)
	if err != nil {
		return fmt.Errorf("client: authenticate: %w", err)
	}

	presence := protocol.PresenceRequest(c.login, pubkeyPEM, float64(time.Now().Unix()))
	if err := wire.WriteFrame(c.conn, presence); err != nil {
		return fmt.Errorf("client: send presence: %w", err)
	}

	resp, err := wire.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("client: read presence response: %w", err)
	}
	code, _ := protocol.ResponseCode(resp)
	if code == protocol.ResponseError {
		return &ErrServer{Message: protocol.ErrorMessage(resp)}
	}
	if code != protocol.ResponseAuth {
		return fmt.Errorf("client: authenticate: unexpected response %v", resp)
	}

	// HMAC'd over the hex string itself, exactly as received, not its
	// decoded bytes.
	challenge := []byte(protocol.BinPayload(resp))
	passwordHash, err := relaycrypto.HashPassword(password, c.login)
	if err != nil {
		return fmt.Errorf("client: hash password: %w", err)
	}
	digest := relaycrypto.ChallengeResponse(passwordHash, challenge)

	answer := protocol.AuthAnswer(base64.StdEncoding.EncodeToString(digest))
	if err := wire.WriteFrame(c.conn, answer); err != nil {
		return fmt.Errorf("client: send challenge answer: %w", err)
	}

	result, err := wire.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("client: read login result: %w", err)
	}
	code, _ = protocol.ResponseCode(result)
	if code == protocol.ResponseError {
		return &ErrServer{Message: protocol.ErrorMessage(result)}
	}
	if code != protocol.ResponseOK {
		return fmt.Errorf("client: authenticate: unexpected login result %v", result)
	}
	return nil
}

// call sends req and returns the server's matching response, holding
// the connection mutex across both halves so the receive loop cannot
// interleave a read in between.
func (c *Client) call(req wire.Frame) (wire.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteFrame(c.conn, req); err != nil {
		return nil, fmt.Errorf("client: send request: %w", err)
	}
	resp, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	return resp, nil
}

func now() float64 { return float64(time.Now().Unix()) }

// Close sends the exit notification, stops the receive loop, and closes
// the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	_ = wire.WriteFrame(c.conn, protocol.ExitRequest(c.login, now()))
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.conn.Close()
}
