// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session persistence with automatic schema creation and JSON blobs

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			app_name   TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			events     TEXT NOT NULL,
			state      TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_app_updated
			ON sessions(app_name, updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// GetSession returns the session with the given id, or ErrNotFound.
// A row whose JSON blobs cannot be decoded is logged and reported as
// absent rather than surfacing a decode error to the caller.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_name, user_id, events, state, updated_at
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		var corrupt *corruptRowError
		if errors.As(err, &corrupt) {
			s.logger.Error("corrupt session row, treating as absent",
				"session_id", id, "error", corrupt.err)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	return sess, nil
}

// UpsertSession inserts or fully replaces the session row keyed by id.
// On conflict events, state, and updated_at are replaced wholesale, so
// applying the same row twice leaves exactly one row with that data.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *Session) error {
	events, err := json.Marshal(session.Events)
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, app_name, user_id, events, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			app_name   = excluded.app_name,
			user_id    = excluded.user_id,
			events     = excluded.events,
			state      = excluded.state,
			updated_at = excluded.updated_at`,
		session.ID, session.AppName, session.UserID, string(events), string(state), updatedAt)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// DeleteSession removes the session row. Deleting an unknown id is a no-op.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ListSessions returns all sessions for an app, most recently updated first.
// Corrupt rows are logged and skipped.
func (s *SQLiteStore) ListSessions(ctx context.Context, appName string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, user_id, events, state, updated_at
		FROM sessions WHERE app_name = ?
		ORDER BY updated_at DESC`, appName)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			var corrupt *corruptRowError
			if errors.As(err, &corrupt) {
				s.logger.Error("skipping corrupt session row", "error", corrupt.err)
				continue
			}
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// corruptRowError marks a row whose JSON blobs failed to decode.
type corruptRowError struct {
	err error
}

func (e *corruptRowError) Error() string { return "corrupt session row: " + e.err.Error() }
func (e *corruptRowError) Unwrap() error { return e.err }

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var events, state string
	if err := row.Scan(&sess.ID, &sess.AppName, &sess.UserID, &events, &state, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &sess.Events); err != nil {
		return nil, &corruptRowError{err: err}
	}
	if err := json.Unmarshal([]byte(state), &sess.State); err != nil {
		return nil, &corruptRowError{err: err}
	}
	if sess.Events == nil {
		sess.Events = []Event{}
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	return &sess, nil
}
