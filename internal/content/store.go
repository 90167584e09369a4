// Package content provides the durable full-content backup store.
//
// Ingestion keeps a copy of every source's original, unsplit text here,
// keyed by (content type, content id). The copy is independent of the
// chunked projection held by the vector index: retrieval reads it for
// exact-content reconstruction and falls back to reassembling chunks
// when a backup is missing.
package content

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/koopa0/recall/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound indicates no backup exists for the requested key.
var ErrNotFound = errors.New("content not found")

// Checksum returns the hex MD5 digest of text. Ingestion stamps it on
// every chunk; retrieval compares it against this store to detect
// drift between the backup and the indexed chunks.
func Checksum(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Open opens the SQLite database backing the content store, creating
// the parent directory if needed.
func Open(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create content store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Store persists full source texts keyed by (content type, content id).
//
// Store is safe for concurrent use; SQLite serializes writers.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// New creates a Store on an opened, migrated database handle.
func New(db *sql.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Put stores or replaces the full text for (contentType, contentID).
func (s *Store) Put(ctx context.Context, contentType, contentID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (content_type, content_id, body, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (content_type, content_id)
		DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		contentType, contentID, text)
	if err != nil {
		return fmt.Errorf("failed to store content %s/%s: %w", contentType, contentID, err)
	}

	s.logger.Debug("stored content backup",
		"content_type", contentType,
		"content_id", contentID,
		"bytes", len(text))
	return nil
}

// Get returns the full text for (contentType, contentID), or ErrNotFound.
func (s *Store) Get(ctx context.Context, contentType, contentID string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM contents WHERE content_type = ? AND content_id = ?`,
		contentType, contentID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, contentType, contentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load content %s/%s: %w", contentType, contentID, err)
	}
	return body, nil
}

// Exists reports whether a backup is stored for (contentType,
// contentID).
func (s *Store) Exists(ctx context.Context, contentType, contentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM contents WHERE content_type = ? AND content_id = ?`,
		contentType, contentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check content %s/%s: %w", contentType, contentID, err)
	}
	return true, nil
}

// Delete removes the backup for (contentType, contentID). Deleting a
// missing key is not an error.
func (s *Store) Delete(ctx context.Context, contentType, contentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM contents WHERE content_type = ? AND content_id = ?`,
		contentType, contentID)
	if err != nil {
		return fmt.Errorf("failed to delete content %s/%s: %w", contentType, contentID, err)
	}
	return nil
}
