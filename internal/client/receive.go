package client

import (
	"encoding/base64"
	"errors"
	"net"
	"time"

	"github.com/cipherdesk/relay/internal/clientstore"
	"github.com/cipherdesk/relay/internal/protocol"
	"github.com/cipherdesk/relay/internal/relaycrypto"
	"github.com/cipherdesk/relay/internal/wire"
)

// receiveLoop is the client's background goroutine: it periodically
// takes the connection mutex, attempts a short-timeout read, and
// processes whatever the server pushed since the last call. It shares
// the same mutex as call so a request/response pair can never be
// interrupted by a spontaneous read.
func (c *Client) receiveLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-time.After(pollInterval):
		}

		c.mu.Lock()
		c.conn.SetReadDeadline(time.Now().Add(pollReadTimeout))
		frame, err := wire.ReadFrame(c.conn)
		c.conn.SetReadDeadline(time.Time{})
		c.mu.Unlock()

		if err != nil {
			if isTimeout(err) {
				continue
			}
			c.log.Warn("connection lost", "error", err)
			c.emit(Event{Kind: EventConnectionLost})
			return
		}

		c.processPush(frame)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// processPush handles a frame that arrived outside a call: a message
// addressed to us, a 205 roster-changed broadcast, or a 400 we log and
// drop since there was no outstanding request to fail.
func (c *Client) processPush(f wire.Frame) {
	if code, ok := protocol.ResponseCode(f); ok {
		switch code {
		case protocol.ResponseRosterChanged:
			if err := c.refreshRoster(); err != nil {
				c.log.Error("refresh roster after 205", "error", err)
			}
			c.emit(Event{Kind: EventRosterChanged})
		case protocol.ResponseError:
			c.log.Warn("unsolicited error from server", "message", protocol.ErrorMessage(f))
		default:
			c.log.Debug("unhandled unsolicited response", "code", code)
		}
		return
	}

	from, to, ciphertext, ok := protocol.MessageFields(f)
	if !ok || to != c.login {
		c.log.Debug("dropped malformed or misaddressed push", "frame", f)
		return
	}

	plaintext, err := c.decryptIncoming(ciphertext)
	if err != nil {
		c.log.Error("decrypt incoming message", "from", from, "error", err)
		return
	}

	if err := c.store.AppendHistory(from, clientstore.DirectionIn, plaintext); err != nil {
		c.log.Error("save incoming message", "error", err)
	}
	c.emit(Event{Kind: EventMessage, From: from, Text: plaintext})
}

func (c *Client) decryptIncoming(cipherB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", err
	}
	plaintext, err := relaycrypto.Decrypt(c.priv, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (c *Client) emit(ev Event) {
	select {
	case c.Events <- ev:
	case <-c.stopCh:
	}
}
