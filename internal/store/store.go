// Package store provides storage backends for FallacySheriff.
//
// It persists the dedup record of processed tweet IDs and the singleton
// poll state (cursor, counter, last poll time) across restarts. SQLite and
// PostgreSQL backends are provided, plus an in-memory store for tests.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
)

// Store is the dedup state store used by the pipeline orchestrator.
// All implementations serialize access internally so the orchestrator can
// interleave reads and writes from one process without extra locking.
type Store interface {
	// IsProcessed reports whether a ProcessedRecord exists for tweetID.
	IsProcessed(tweetID string) (bool, error)

	// MarkProcessed records tweetID as handled. Idempotent: marking the
	// same ID twice is a no-op, never an error.
	MarkProcessed(tweetID string) error

	// LastSeenID returns the poll cursor, or "" before the first poll.
	LastSeenID() (string, error)

	// SetLastSeenID advances the poll cursor.
	SetLastSeenID(tweetID string) error

	// IncrementMentionsProcessed bumps the processed-mentions counter.
	IncrementMentionsProcessed() error

	// SetLastPollTime records when the most recent poll cycle completed.
	SetLastPollTime(t time.Time) error

	// Status returns a snapshot of the poll state.
	Status() (models.PollStatus, error)

	// Close releases the underlying storage.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// connection URL for PostgreSQL.
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths and
// anything unrecognized fall through to SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a non-durable Store used in tests and when no DSN is
// configured.
type InMemoryStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
	status    models.PollStatus
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{processed: make(map[string]time.Time)}
}

func (s *InMemoryStore) IsProcessed(tweetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[tweetID]
	return ok, nil
}

func (s *InMemoryStore) MarkProcessed(tweetID string) error {
	if tweetID == "" {
		return models.ErrEmptyTweetID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[tweetID]; !ok {
		s.processed[tweetID] = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryStore) LastSeenID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.LastSeenID, nil
}

func (s *InMemoryStore) SetLastSeenID(tweetID string) error {
	if tweetID == "" {
		return models.ErrEmptyTweetID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSeenID = tweetID
	return nil
}

func (s *InMemoryStore) IncrementMentionsProcessed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.MentionsProcessed++
	return nil
}

func (s *InMemoryStore) SetLastPollTime(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastPollTime = &t
	return nil
}

func (s *InMemoryStore) Status() (models.PollStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.LastPollTime != nil {
		t := *st.LastPollTime
		st.LastPollTime = &t
	}
	return st, nil
}

func (s *InMemoryStore) Close() error { return nil }
