package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DefaultQueryTimeout bounds every durable-store operation.
const DefaultQueryTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// SQLiteStore is the durable Store backed by SQLite.
type SQLiteStore struct {
	db           *sql.DB
	queryTimeout time.Duration
	healthy      atomic.Bool
	logger       zerolog.Logger
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path         string
	QueryTimeout time.Duration
	Logger       zerolog.Logger
}

// NewSQLite opens (or creates) the session database.
func NewSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:           db,
		queryTimeout: cfg.QueryTimeout,
		logger:       cfg.Logger,
	}
	s.healthy.Store(true)

	s.logger.Info().Str("path", cfg.Path).Msg("Session store initialized")

	return s, nil
}

// Load fetches the full history for a session.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&createdAt)
	if err == sql.ErrNoRows {
		s.markHealthy()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.fail("load session", sessionID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, s.fail("load messages", sessionID, err)
	}
	defer rows.Close()

	sess := &Session{SessionID: sessionID, CreatedAt: createdAt}
	dropped := 0
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, s.fail("scan message", sessionID, err)
		}
		msg.Role = Role(role)
		if !msg.Valid() {
			dropped++
			continue
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate messages", sessionID, err)
	}

	if dropped > 0 {
		s.logger.Warn().
			Str("session_id", sessionID).
			Int("dropped", dropped).
			Msg("Dropped malformed entries on load")
	}

	s.markHealthy()

	s.logger.Debug().
		Str("session_id", sessionID).
		Int("messages", len(sess.Messages)).
		Msg("Session loaded")

	return sess, nil
}

// Append persists one message, creating the session if absent.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg Message) error {
	if !msg.Valid() {
		return fmt.Errorf("message must have a recognized role and non-empty content")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin tx", sessionID, err)
	}
	defer tx.Rollback()

	// Upsert the session row; at most one logical session per id.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, time.Now(),
	); err != nil {
		return s.fail("upsert session", sessionID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, string(msg.Role), msg.Content, msg.Timestamp,
	); err != nil {
		return s.fail("insert message", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return s.fail("commit", sessionID, err)
	}

	s.markHealthy()

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("role", string(msg.Role)).
		Msg("Message appended")

	return nil
}

// Prune deletes sessions whose newest message is older than the cutoff.
// Storage-policy housekeeping; never called by the orchestration core.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id NOT IN (
			SELECT DISTINCT session_id FROM messages WHERE created_at >= ?
		)`, cutoff,
	)
	if err != nil {
		return 0, s.fail("prune sessions", "", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id NOT IN (SELECT session_id FROM sessions)`,
	); err != nil {
		return removed, s.fail("prune messages", "", err)
	}

	s.markHealthy()
	return removed, nil
}

// Healthy reports current backend connectivity.
func (s *SQLiteStore) Healthy() bool {
	return s.healthy.Load()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) markHealthy() {
	if !s.healthy.Swap(true) {
		s.logger.Info().Msg("Session store recovered")
	}
}

func (s *SQLiteStore) fail(op, sessionID string, err error) error {
	if s.healthy.Swap(false) {
		s.logger.Error().
			Str("op", op).
			Str("session_id", sessionID).
			Err(err).
			Msg("Session store unavailable, falling back to in-memory storage")
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
