// Package store persists finished translations in SQLite so a repeated text
// on the same route is served without a model call. Records are keyed on
// content, never on who sent them.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"babelbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.TranslationMemory.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translations (
		pair         TEXT NOT NULL,
		source_hash  TEXT NOT NULL,
		source_text  TEXT NOT NULL,
		translated   TEXT NOT NULL,
		hits         INTEGER DEFAULT 0,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pair, source_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_translations_used ON translations(last_used_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the remembered translation for a route and text. A hit
// bumps the usage counters best-effort.
func (s *SQLiteStore) Lookup(ctx context.Context, pair domain.LanguagePair, text string) (string, bool, error) {
	key := pair.Key()
	hash := hashText(text)

	var translated string
	err := s.db.QueryRowContext(ctx,
		`SELECT translated FROM translations WHERE pair = ? AND source_hash = ?`,
		key, hash,
	).Scan(&translated)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE translations SET hits = hits + 1, last_used_at = ? WHERE pair = ? AND source_hash = ?`,
		time.Now(), key, hash,
	); err != nil {
		s.logger.Warn("failed to bump memory hit", "pair", key, "err", err)
	}
	return translated, true, nil
}

// Save remembers a finished translation, replacing an earlier entry for the
// same route and text.
func (s *SQLiteStore) Save(ctx context.Context, pair domain.LanguagePair, text, translated string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO translations (pair, source_hash, source_text, translated)
		 VALUES (?, ?, ?, ?)`,
		pair.Key(), hashText(text), text, translated,
	)
	return err
}

// Count returns how many translations are remembered.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
