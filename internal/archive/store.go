// Package archive writes accepted room messages to PostgreSQL. Writes are
// asynchronous relative to fan-out; the archive is write-only.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/whisper/roomchat/internal/chat"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("archive: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "roomchat_schema_migrations"})
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	return nil
}

// Execer is satisfied by *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store inserts messages.
type Store struct {
	db Execer
}

// NewStore creates a Store over db.
func NewStore(db Execer) *Store {
	return &Store{db: db}
}

const insertMessage = `
	INSERT INTO messages (id, room, sender_id, sender, body, kind, file_ref, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING`

// Insert writes msg. Re-inserting the same id is a no-op.
func (s *Store) Insert(ctx context.Context, msg chat.Message) error {
	fileRef := sql.NullString{String: msg.FileRef, Valid: msg.FileRef != ""}
	_, err := s.db.ExecContext(ctx, insertMessage,
		msg.ID,
		msg.Room,
		msg.SenderID,
		msg.Sender,
		msg.Body,
		string(msg.Kind),
		fileRef,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive: insert: %w", err)
	}
	return nil
}
