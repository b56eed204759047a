package serverstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
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

// Store is the server's account database.
type Store struct {
	db *bun.DB
}

// Open opens (creating if necessary) the sqlite database at path, runs
// any pending migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("serverstore: open: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("serverstore: set busy_timeout: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("serverstore: enable WAL: %w", err)
	}
	conn.SetMaxIdleConns(1)

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("serverstore: migrate: %w", err)
	}

	return &Store{db: bun.NewDB(conn, sqlitedialect.New())}, nil
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

// ctx returns a background context for bun queries, which this store
// never cancels: every call is expected to run to completion.
func ctx() context.Context { return context.Background() }

// ErrUserNotFound is returned by lookups against an unregistered login.
var ErrUserNotFound = errors.New("serverstore: user not found")

// CheckExistingUser reports whether login is already registered.
func (s *Store) CheckExistingUser(login string) (bool, error) {
	n, err := s.db.NewSelect().Model((*User)(nil)).Where("login = ?", login).Count(ctx())
	if err != nil {
		return false, fmt.Errorf("serverstore: check existing user: %w", err)
	}
	return n > 0, nil
}

// RegisterUser inserts a new account and its zeroed counter row.
func (s *Store) RegisterUser(login, passwordHash string) error {
	user := &User{Login: login, PasswordHash: passwordHash, LastLogin: time.Now()}
	if _, err := s.db.NewInsert().Model(user).Exec(ctx()); err != nil {
		return fmt.Errorf("serverstore: register user: %w", err)
	}
	counters := &ActionHistory{User: login}
	if _, err := s.db.NewInsert().Model(counters).Exec(ctx()); err != nil {
		return fmt.Errorf("serverstore: register user counters: %w", err)
	}
	return nil
}

// RemoveUser deletes login and every row referencing it: login history,
// counters, and both directions of its contact-list entries.
func (s *Store) RemoveUser(login string) error {
	return s.db.RunInTx(ctx(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*LoginHistoryEntry)(nil)).Where("user = ?", login).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*ActionHistory)(nil)).Where("user = ?", login).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*Contact)(nil)).WhereOr("contact_owner = ?", login).WhereOr("contact = ?", login).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*User)(nil)).Where("login = ?", login).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

// RecordLogin updates last_login for an existing user, appends a
// login-history row, and optionally updates the stored public key.
func (s *Store) RecordLogin(login, ip string, port int, publicKeyPEM string) error {
	exists, err := s.CheckExistingUser(login)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("serverstore: record login: %w: %s", ErrUserNotFound, login)
	}
	now := time.Now()
	q := s.db.NewUpdate().Model((*User)(nil)).Where("login = ?", login).Set("last_login = ?", now)
	if publicKeyPEM != "" {
		q = q.Set("public_key = ?", publicKeyPEM)
	}
	if _, err := q.Exec(ctx()); err != nil {
		return fmt.Errorf("serverstore: record login: %w", err)
	}
	entry := &LoginHistoryEntry{User: login, IPAddress: ip, Port: port, LastActive: now}
	if _, err := s.db.NewInsert().Model(entry).Exec(ctx()); err != nil {
		return fmt.Errorf("serverstore: record login history: %w", err)
	}
	return nil
}

// GetPasswordHash returns the stored password hash for login.
func (s *Store) GetPasswordHash(login string) (string, error) {
	user := new(User)
	err := s.db.NewSelect().Model(user).Where("login = ?", login).Scan(ctx())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("serverstore: get password hash: %w: %s", ErrUserNotFound, login)
		}
		return "", fmt.Errorf("serverstore: get password hash: %w", err)
	}
	return user.PasswordHash, nil
}

// GetPublicKey returns the stored PEM public key for login, which is
// empty until the user's first successful presence handshake.
func (s *Store) GetPublicKey(login string) (string, error) {
	user := new(User)
	err := s.db.NewSelect().Model(user).Where("login = ?", login).Scan(ctx())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("serverstore: get public key: %w: %s", ErrUserNotFound, login)
		}
		return "", fmt.Errorf("serverstore: get public key: %w", err)
	}
	return user.PublicKey, nil
}

// AddContact adds contact to owner's contact list. Re-adding an
// existing contact is a no-op, matching the original's idempotent add.
func (s *Store) AddContact(owner, contact string) error {
	exists, err := s.db.NewSelect().Model((*Contact)(nil)).
		Where("contact_owner = ? AND contact = ?", owner, contact).Exists(ctx())
	if err != nil {
		return fmt.Errorf("serverstore: add contact: %w", err)
	}
	if exists {
		return nil
	}
	row := &Contact{ContactOwner: owner, Contact: contact}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx()); err != nil {
		return fmt.Errorf("serverstore: add contact: %w", err)
	}
	return nil
}

// RemoveContact removes contact from owner's contact list. Removing an
// absent contact is a no-op.
func (s *Store) RemoveContact(owner, contact string) error {
	if _, err := s.db.NewDelete().Model((*Contact)(nil)).
		Where("contact_owner = ? AND contact = ?", owner, contact).Exec(ctx()); err != nil {
		return fmt.Errorf("serverstore: remove contact: %w", err)
	}
	return nil
}

// ListContacts returns owner's contact list.
func (s *Store) ListContacts(owner string) ([]string, error) {
	var contacts []Contact
	if err := s.db.NewSelect().Model(&contacts).Where("contact_owner = ?", owner).Scan(ctx()); err != nil {
		return nil, fmt.Errorf("serverstore: list contacts: %w", err)
	}
	out := make([]string, len(contacts))
	for i, c := range contacts {
		out[i] = c.Contact
	}
	return out, nil
}

// ListAllUsers returns every registered login with its last_login time.
func (s *Store) ListAllUsers() ([]User, error) {
	var users []User
	if err := s.db.NewSelect().Model(&users).Order("login ASC").Scan(ctx()); err != nil {
		return nil, fmt.Errorf("serverstore: list all users: %w", err)
	}
	return users, nil
}

// LoginHistory returns login-history entries, optionally filtered to a
// single user.
func (s *Store) LoginHistory(login string) ([]LoginHistoryEntry, error) {
	q := s.db.NewSelect().Model((*LoginHistoryEntry)(nil)).Order("last_active ASC")
	if login != "" {
		q = q.Where("user = ?", login)
	}
	var entries []LoginHistoryEntry
	if err := q.Scan(ctx(), &entries); err != nil {
		return nil, fmt.Errorf("serverstore: login history: %w", err)
	}
	return entries, nil
}

// RecordMessage increments sender's sent counter and recipient's
// received counter.
func (s *Store) RecordMessage(sender, recipient string) error {
	return s.db.RunInTx(ctx(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*ActionHistory)(nil)).
			Where("user = ?", sender).Set("sent_messages = sent_messages + 1").Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().Model((*ActionHistory)(nil)).
			Where("user = ?", recipient).Set("received_messages = received_messages + 1").Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

// MessageCounters returns per-user sent/received message counts.
func (s *Store) MessageCounters() ([]ActionHistory, error) {
	var rows []ActionHistory
	if err := s.db.NewSelect().Model(&rows).Order("user ASC").Scan(ctx()); err != nil {
		return nil, fmt.Errorf("serverstore: message counters: %w", err)
	}
	return rows, nil
}
