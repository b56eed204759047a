package clientstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

//go:embed all:migrations
var migrationFS embed.FS

// Store is one client's local database. Each login gets its own file,
// named client_<login>.sqlite3, matching the one-database-per-account
// layout this client was ported from.
type Store struct {
	db *bun.DB
}

// DBFileName returns the per-login database file name used by Open.
func DBFileName(login string) string {
	return "client_" + login + ".sqlite3"
}

// Open opens (creating and migrating if necessary) the login's local
// database under dir, and clears any stale contact list left over from
// a previous run — the contact list is always re-synced from the
// server's get_contacts response on connect.
func Open(dir, login string) (*Store, error) {
	path := filepath.Join(dir, DBFileName(login))
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("clientstore: open: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientstore: set busy_timeout: %w", err)
	}
	conn.SetMaxIdleConns(1)

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientstore: migrate: %w", err)
	}

	store := &Store{db: bun.NewDB(conn, sqlitedialect.New())}
	if err := store.ClearContacts(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(conn *sql.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func ctx() context.Context { return context.Background() }

// AddContact adds login to the contact list, ignoring a contact already
// present.
func (s *Store) AddContact(login string) error {
	exists, err := s.HasContact(login)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	row := &LocalContact{Contact: login}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx()); err != nil {
		return fmt.Errorf("clientstore: add contact: %w", err)
	}
	return nil
}

// RemoveContact removes login from the contact list.
func (s *Store) RemoveContact(login string) error {
	if _, err := s.db.NewDelete().Model((*LocalContact)(nil)).Where("contact = ?", login).Exec(ctx()); err != nil {
		return fmt.Errorf("clientstore: remove contact: %w", err)
	}
	return nil
}

// ClearContacts empties the contact list; called by Open at startup and
// before each fresh contact list from the server is cached.
func (s *Store) ClearContacts() error {
	if _, err := s.db.NewDelete().Model((*LocalContact)(nil)).Where("1 = 1").Exec(ctx()); err != nil {
		return fmt.Errorf("clientstore: clear contacts: %w", err)
	}
	return nil
}

// Contacts returns the current contact list.
func (s *Store) Contacts() ([]string, error) {
	var rows []LocalContact
	if err := s.db.NewSelect().Model(&rows).Order("contact ASC").Scan(ctx()); err != nil {
		return nil, fmt.Errorf("clientstore: contacts: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Contact
	}
	return out, nil
}

// HasContact reports whether login is in the contact list.
func (s *Store) HasContact(login string) (bool, error) {
	n, err := s.db.NewSelect().Model((*LocalContact)(nil)).Where("contact = ?", login).Count(ctx())
	if err != nil {
		return false, fmt.Errorf("clientstore: has contact: %w", err)
	}
	return n > 0, nil
}

// ReplaceKnownUsers overwrites the cached server roster.
func (s *Store) ReplaceKnownUsers(logins []string) error {
	return s.db.RunInTx(ctx(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*KnownUser)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		for _, login := range logins {
			row := &KnownUser{Login: login}
			if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// KnownUsers returns the cached server roster.
func (s *Store) KnownUsers() ([]string, error) {
	var rows []KnownUser
	if err := s.db.NewSelect().Model(&rows).Order("login ASC").Scan(ctx()); err != nil {
		return nil, fmt.Errorf("clientstore: known users: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Login
	}
	return out, nil
}

// HasUser reports whether login appears in the cached server roster.
func (s *Store) HasUser(login string) (bool, error) {
	n, err := s.db.NewSelect().Model((*KnownUser)(nil)).Where("login = ?", login).Count(ctx())
	if err != nil {
		return false, fmt.Errorf("clientstore: has user: %w", err)
	}
	return n > 0, nil
}

// AppendHistory records one sent or received message.
func (s *Store) AppendHistory(peer string, direction Direction, message string) error {
	row := &HistoryEntry{Peer: peer, Direction: direction, Message: message, SentAt: time.Now()}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx()); err != nil {
		return fmt.Errorf("clientstore: append history: %w", err)
	}
	return nil
}

// History returns the message history exchanged with peer, oldest first.
func (s *Store) History(peer string) ([]HistoryEntry, error) {
	var rows []HistoryEntry
	if err := s.db.NewSelect().Model(&rows).Where("peer = ?", peer).Order("sent_at ASC").Scan(ctx()); err != nil {
		return nil, fmt.Errorf("clientstore: history: %w", err)
	}
	return rows, nil
}
