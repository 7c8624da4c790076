// Package store provides storage backends for FallacySheriff.
//
// This file implements the SQLite-backed store for processed tweets and
// poll state.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a durable Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) IsProcessed(tweetID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT tweet_id FROM processed_tweets WHERE tweet_id = ?`, tweetID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore IsProcessed query failed", "error", err, "tweet_id", tweetID)
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkProcessed(tweetID string) error {
	if tweetID == "" {
		return models.ErrEmptyTweetID
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO processed_tweets (tweet_id, processed_at) VALUES (?, ?)`,
		tweetID, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore MarkProcessed failed", "error", err, "tweet_id", tweetID)
		return fmt.Errorf("mark processed failed: %w", err)
	}
	slog.Debug("SQLiteStore MarkProcessed succeeded", "tweet_id", tweetID)
	return nil
}

func (s *SQLiteStore) LastSeenID() (string, error) {
	var id sql.NullString
	err := s.db.QueryRow(`SELECT last_seen_id FROM poll_state WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore LastSeenID query failed", "error", err)
		return "", fmt.Errorf("read cursor failed: %w", err)
	}
	return id.String, nil
}

func (s *SQLiteStore) SetLastSeenID(tweetID string) error {
	if tweetID == "" {
		return models.ErrEmptyTweetID
	}
	_, err := s.db.Exec(`UPDATE poll_state SET last_seen_id = ? WHERE id = 1`, tweetID)
	if err != nil {
		slog.Error("SQLiteStore SetLastSeenID failed", "error", err, "tweet_id", tweetID)
		return fmt.Errorf("set cursor failed: %w", err)
	}
	slog.Debug("SQLiteStore SetLastSeenID succeeded", "tweet_id", tweetID)
	return nil
}

func (s *SQLiteStore) IncrementMentionsProcessed() error {
	_, err := s.db.Exec(`UPDATE poll_state SET mentions_processed = mentions_processed + 1 WHERE id = 1`)
	if err != nil {
		slog.Error("SQLiteStore IncrementMentionsProcessed failed", "error", err)
		return fmt.Errorf("increment processed count failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetLastPollTime(t time.Time) error {
	_, err := s.db.Exec(`UPDATE poll_state SET last_poll_time = ? WHERE id = 1`, t.UTC())
	if err != nil {
		slog.Error("SQLiteStore SetLastPollTime failed", "error", err)
		return fmt.Errorf("set last poll time failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Status() (models.PollStatus, error) {
	var st models.PollStatus
	var cursor sql.NullString
	var lastPoll sql.NullTime
	err := s.db.QueryRow(
		`SELECT last_seen_id, mentions_processed, last_poll_time FROM poll_state WHERE id = 1`,
	).Scan(&cursor, &st.MentionsProcessed, &lastPoll)
	if err != nil {
		slog.Error("SQLiteStore Status query failed", "error", err)
		return st, fmt.Errorf("read poll state failed: %w", err)
	}
	st.LastSeenID = cursor.String
	if lastPoll.Valid {
		t := lastPoll.Time
		st.LastPollTime = &t
	}
	return st, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
