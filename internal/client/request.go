package client

import (
	"encoding/base64"
	"fmt"

	"github.com/cipherdesk/relay/internal/clientstore"
	"github.com/cipherdesk/relay/internal/protocol"
	"github.com/cipherdesk/relay/internal/relaycrypto"
)

// RequestContacts fetches the current contact list from the server and
// caches it locally.
func (c *Client) RequestContacts() ([]string, error) {
	resp, err := c.call(protocol.GetContactsRequest(c.login, now()))
	if err != nil {
		return nil, err
	}
	if code, _ := protocol.ResponseCode(resp); code == protocol.ResponseError {
		return nil, &ErrServer{Message: protocol.ErrorMessage(resp)}
	}
	contacts := protocol.StringList(resp)
	if err := c.store.ClearContacts(); err != nil {
		c.log.Error("clear cached contacts", "error", err)
	}
	for _, contact := range contacts {
		if err := c.store.AddContact(contact); err != nil {
			c.log.Error("cache contact", "contact", contact, "error", err)
		}
	}
	return contacts, nil
}

// RequestUsers fetches the full registered-account list and caches it.
func (c *Client) RequestUsers() ([]string, error) {
	resp, err := c.call(protocol.GetUsersRequest(c.login, now()))
	if err != nil {
		return nil, err
	}
	if code, _ := protocol.ResponseCode(resp); code == protocol.ResponseError {
		return nil, &ErrServer{Message: protocol.ErrorMessage(resp)}
	}
	users := protocol.StringList(resp)
	if err := c.store.ReplaceKnownUsers(users); err != nil {
		c.log.Error("cache known users", "error", err)
	}
	return users, nil
}

// refreshRoster re-pulls both lists, used after a 205 roster-changed push.
func (c *Client) refreshRoster() error {
	if _, err := c.RequestContacts(); err != nil {
		return err
	}
	_, err := c.RequestUsers()
	return err
}

// RequestPublicKey fetches user's PEM-encoded RSA public key.
func (c *Client) RequestPublicKey(user string) (string, error) {
	resp, err := c.call(protocol.PubkeyNeedRequest(user, now()))
	if err != nil {
		return "", err
	}
	code, _ := protocol.ResponseCode(resp)
	if code == protocol.ResponseError {
		return "", &ErrServer{Message: protocol.ErrorMessage(resp)}
	}
	if code != protocol.ResponseAuth {
		return "", fmt.Errorf("client: request public key: unexpected response %v", resp)
	}
	return protocol.BinPayload(resp), nil
}

// AddContact adds contact to the server-side and local contact lists.
func (c *Client) AddContact(contact string) error {
	resp, err := c.call(protocol.AddRequest(c.login, contact, now()))
	if err != nil {
		return err
	}
	if code, _ := protocol.ResponseCode(resp); code == protocol.ResponseError {
		return &ErrServer{Message: protocol.ErrorMessage(resp)}
	}
	return c.store.AddContact(contact)
}

// RemoveContact removes contact from the server-side and local contact
// lists.
func (c *Client) RemoveContact(contact string) error {
	resp, err := c.call(protocol.RemoveRequest(c.login, contact, now()))
	if err != nil {
		return err
	}
	if code, _ := protocol.ResponseCode(resp); code == protocol.ResponseError {
		return &ErrServer{Message: protocol.ErrorMessage(resp)}
	}
	return c.store.RemoveContact(contact)
}

// SendMessage fetches to's public key, RSA-OAEP encrypts plaintext, sends
// it, and records it to local history on success.
func (c *Client) SendMessage(to, plaintext string) error {
	pubkeyPEM, err := c.RequestPublicKey(to)
	if err != nil {
		return fmt.Errorf("client: send message: %w", err)
	}
	pub, err := relaycrypto.DecodePublicKeyPEM(pubkeyPEM)
	if err != nil {
		return fmt.Errorf("client: send message: decode recipient key: %w", err)
	}
	ciphertext, err := relaycrypto.Encrypt(pub, []byte(plaintext))
	if err != nil {
		return fmt.Errorf("client: send message: encrypt: %w", err)
	}
	ciphertextB64 := base64.StdEncoding.EncodeToString(ciphertext)

	resp, err := c.call(protocol.MessageRequest(c.login, to, ciphertextB64, now()))
	if err != nil {
		return err
	}
	if code, _ := protocol.ResponseCode(resp); code == protocol.ResponseError {
		return &ErrServer{Message: protocol.ErrorMessage(resp)}
	}

	if err := c.store.AppendHistory(to, clientstore.DirectionOut, plaintext); err != nil {
		c.log.Error("save outgoing message", "error", err)
	}
	return nil
}
