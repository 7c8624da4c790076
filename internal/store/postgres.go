// Package store provides storage backends for FallacySheriff.
//
// This file implements the PostgreSQL-backed store for processed tweets
// and poll state.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a durable Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) IsProcessed(tweetID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT tweet_id FROM processed_tweets WHERE tweet_id = $1`, tweetID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore IsProcessed query failed", "error", err, "tweet_id", tweetID)
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(tweetID string) error {
	if tweetID == "" {
		return models.ErrEmptyTweetID
	}
	_, err := s.db.Exec(
		`INSERT INTO processed_tweets (tweet_id, processed_at) VALUES ($1, $2) ON CONFLICT (tweet_id) DO NOTHING`,
		tweetID, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore MarkProcessed failed", "error", err, "tweet_id", tweetID)
		return fmt.Errorf("mark processed failed: %w", err)
	}
	slog.Debug("PostgresStore MarkProcessed succeeded", "tweet_id", tweetID)
	return nil
}

func (s *PostgresStore) LastSeenID() (string, error) {
	var id sql.NullString
	err := s.db.QueryRow(`SELECT last_seen_id FROM poll_state WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore LastSeenID query failed", "error", err)
		return "", fmt.Errorf("read cursor failed: %w", err)
	}
	return id.String, nil
}

func (s *PostgresStore) SetLastSeenID(tweetID string) error {
	if tweetID == "" {
		return models.ErrEmptyTweetID
	}
	_, err := s.db.Exec(`UPDATE poll_state SET last_seen_id = $1 WHERE id = 1`, tweetID)
	if err != nil {
		slog.Error("PostgresStore SetLastSeenID failed", "error", err, "tweet_id", tweetID)
		return fmt.Errorf("set cursor failed: %w", err)
	}
	slog.Debug("PostgresStore SetLastSeenID succeeded", "tweet_id", tweetID)
	return nil
}

func (s *PostgresStore) IncrementMentionsProcessed() error {
	_, err := s.db.Exec(`UPDATE poll_state SET mentions_processed = mentions_processed + 1 WHERE id = 1`)
	if err != nil {
		slog.Error("PostgresStore IncrementMentionsProcessed failed", "error", err)
		return fmt.Errorf("increment processed count failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetLastPollTime(t time.Time) error {
	_, err := s.db.Exec(`UPDATE poll_state SET last_poll_time = $1 WHERE id = 1`, t.UTC())
	if err != nil {
		slog.Error("PostgresStore SetLastPollTime failed", "error", err)
		return fmt.Errorf("set last poll time failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Status() (models.PollStatus, error) {
	var st models.PollStatus
	var cursor sql.NullString
	var lastPoll sql.NullTime
	err := s.db.QueryRow(
		`SELECT last_seen_id, mentions_processed, last_poll_time FROM poll_state WHERE id = 1`,
	).Scan(&cursor, &st.MentionsProcessed, &lastPoll)
	if err != nil {
		slog.Error("PostgresStore Status query failed", "error", err)
		return st, fmt.Errorf("read poll state failed: %w", err)
	}
	st.LastSeenID = cursor.String
	if lastPoll.Valid {
		t := lastPoll.Time
		st.LastPollTime = &t
	}
	return st, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
