// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

// Repository defines the interface for persisting users, chat sessions and
// conversation checkpoints.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetChatSession returns the session bound to a browser tab, or nil.
	GetChatSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error)

	// UpsertChatSession creates or updates a chat session binding.
	UpsertChatSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteChatSession removes a chat session binding.
	DeleteChatSession(ctx context.Context, userID, sessionID string) error

	// GetExpiredChatSessions lists sessions idle for longer than ttl.
	GetExpiredChatSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)

	// GetCheckpoint returns the persisted state of a thread, or nil.
	GetCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error)

	// PutCheckpoint stores the state of a thread.
	PutCheckpoint(ctx context.Context, cp *domain.Checkpoint) error

	// DeleteCheckpoint removes a thread's state.
	DeleteCheckpoint(ctx context.Context, threadID string) error

	// CleanupOrphanedCheckpoints removes checkpoints older than ttl that no
	// session points at.
	CleanupOrphanedCheckpoints(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
