// Package prefs keeps device-local preferences, such as the chain a member
// last selected, in a small SQLite database.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chain_selection (
	user_uid   TEXT PRIMARY KEY,
	chain_uid  TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store is a SQLite-backed chain preference store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the preference database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preferences path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadChainID returns the chain userID last selected on this device, or "".
func (s *Store) LoadChainID(ctx context.Context, userID string) (string, error) {
	var chainID string
	err := s.db.QueryRowContext(ctx,
		`SELECT chain_uid FROM chain_selection WHERE user_uid = ?`, userID,
	).Scan(&chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading chain selection: %w", err)
	}
	return chainID, nil
}

// SaveChainID records chainID as userID's selection. An empty chainID
// removes the selection.
func (s *Store) SaveChainID(ctx context.Context, userID, chainID string) error {
	if chainID == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chain_selection WHERE user_uid = ?`, userID); err != nil {
			return fmt.Errorf("clearing chain selection: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_selection (user_uid, chain_uid, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_uid) DO UPDATE SET chain_uid = excluded.chain_uid, updated_at = excluded.updated_at`,
		userID, chainID, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving chain selection: %w", err)
	}
	return nil
}
