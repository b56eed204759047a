// Package clientstore is the client's local cache: the last known
// roster of server-side users, the local contact list, and the
// plaintext message history kept for display (the wire ciphertext is
// never persisted; only the decrypted or outgoing-plaintext message
// body is saved here).
package clientstore

import (
	"time"

	"github.com/uptrace/bun"
)

// Direction distinguishes sent from received history entries.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// KnownUser is a row of known_users: the cached server roster.
type KnownUser struct {
	bun.BaseModel `bun:"table:known_users"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Login string `bun:"login,unique,notnull"`
}

// LocalContact is a row of contacts: the client's own contact list.
type LocalContact struct {
	bun.BaseModel `bun:"table:contacts"`

	ID      int64  `bun:"id,pk,autoincrement"`
	Contact string `bun:"contact,unique,notnull"`
}

// HistoryEntry is a row of message_history: one sent or received,
// already-decrypted message.
type HistoryEntry struct {
	bun.BaseModel `bun:"table:message_history"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Peer      string    `bun:"peer,notnull"`
	Direction Direction `bun:"direction,notnull"`
	Message   string    `bun:"message,notnull"`
	SentAt    time.Time `bun:"sent_at,notnull"`
}
