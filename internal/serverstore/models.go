// Package serverstore is the server's persistent account database: the
// registry of users, their login history, contact graph, and per-user
// message counters. The currently-connected session table is not part
// of this store; it is in-memory state owned by the server engine (see
// internal/server) and has no backing table here.
package serverstore

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a row of all_users: one registered account.
type User struct {
	bun.BaseModel `bun:"table:all_users"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Login        string    `bun:"login,unique,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	PublicKey    string    `bun:"public_key"`
	LastLogin    time.Time `bun:"last_login,notnull"`
}

// LoginHistoryEntry is a row of user_login_history: one recorded login.
type LoginHistoryEntry struct {
	bun.BaseModel `bun:"table:user_login_history"`

	ID         int64     `bun:"id,pk,autoincrement"`
	User       string    `bun:"user,notnull"`
	IPAddress  string    `bun:"ip_address,notnull"`
	Port       int       `bun:"port,notnull"`
	LastActive time.Time `bun:"last_active,notnull"`
}

// Contact is a row of user_contacts: a directed owner→contact edge.
type Contact struct {
	bun.BaseModel `bun:"table:user_contacts"`

	ID           int64  `bun:"id,pk,autoincrement"`
	ContactOwner string `bun:"contact_owner,notnull"`
	Contact      string `bun:"contact,notnull"`
}

// ActionHistory is a row of user_action_history: per-user message
// counters, updated each time a message is relayed through that user.
type ActionHistory struct {
	bun.BaseModel `bun:"table:user_action_history"`

	ID               int64  `bun:"id,pk,autoincrement"`
	User             string `bun:"user,unique,notnull"`
	SentMessages     int    `bun:"sent_messages,notnull,default:0"`
	ReceivedMessages int    `bun:"received_messages,notnull,default:0"`
}
