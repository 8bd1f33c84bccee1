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
	"sync"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	checkpointMu sync.Mutex // serializes checkpoint writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT PRIMARY KEY,
		messages_json TEXT NOT NULL,
		transcript_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetChatSession returns the session bound to a browser tab, or nil.
func (s *SQLiteStore) GetChatSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	query := `
		SELECT user_id, session_id, thread_id, created_at, updated_at
		FROM chat_sessions WHERE user_id = ? AND session_id = ?`

	session, err := scanChatSession(s.db.QueryRowContext(ctx, query, userID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}
	return session, nil
}

// UpsertChatSession creates or updates a chat session binding.
func (s *SQLiteStore) UpsertChatSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
	INSERT INTO chat_sessions (user_id, session_id, thread_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, session_id) DO UPDATE SET
		thread_id = excluded.thread_id,
		updated_at = excluded.updated_at`

	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	_, err := s.db.ExecContext(ctx, query,
		session.UserID, session.SessionID, session.ThreadID,
		createdAt.Unix(), updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}

// DeleteChatSession removes a chat session binding.
func (s *SQLiteStore) DeleteChatSession(ctx context.Context, userID, sessionID string) error {
	query := `DELETE FROM chat_sessions WHERE user_id = ? AND session_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID, sessionID); err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}

// GetExpiredChatSessions lists sessions idle for longer than ttl.
func (s *SQLiteStore) GetExpiredChatSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT user_id, session_id, thread_id, created_at, updated_at
		FROM chat_sessions WHERE updated_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired chat sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		session, err := scanChatSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired chat session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired chat sessions: %w", err)
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var createdAt, updatedAt int64
	if err := row.Scan(&session.UserID, &session.SessionID, &session.ThreadID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// GetCheckpoint returns the persisted state of a thread, or nil.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	query := `
		SELECT thread_id, messages_json, transcript_json, updated_at
		FROM checkpoints WHERE thread_id = ?`

	var cp domain.Checkpoint
	var messagesJSON, transcriptJSON string
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&cp.ThreadID, &messagesJSON, &transcriptJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &cp.Messages); err != nil {
		return nil, fmt.Errorf("decode checkpoint messages: %w", err)
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &cp.Transcript); err != nil {
		return nil, fmt.Errorf("decode checkpoint transcript: %w", err)
	}
	cp.UpdatedAt = time.Unix(updatedAt, 0)

	return &cp, nil
}

// PutCheckpoint stores the state of a thread.
func (s *SQLiteStore) PutCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	messages := cp.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	transcript := cp.Transcript
	if transcript == nil {
		transcript = []domain.ChatEntry{}
	}

	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode checkpoint messages: %w", err)
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode checkpoint transcript: %w", err)
	}

	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	query := `
	INSERT INTO checkpoints (thread_id, messages_json, transcript_json, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(thread_id) DO UPDATE SET
		messages_json = excluded.messages_json,
		transcript_json = excluded.transcript_json,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, cp.ThreadID, string(messagesJSON), string(transcriptJSON), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoint removes a thread's state.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, threadID string) error {
	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// CleanupOrphanedCheckpoints removes checkpoints older than ttl that no
// session points at.
func (s *SQLiteStore) CleanupOrphanedCheckpoints(ctx context.Context, ttl time.Duration) (int64, error) {
	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	query := `
		DELETE FROM checkpoints
		WHERE updated_at < ?
		AND thread_id NOT IN (SELECT thread_id FROM chat_sessions)`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphaned checkpoints: %w", err)
	}
	return result.RowsAffected()
}
