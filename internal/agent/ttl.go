package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/store"
)

const (
	ttlWorkerInterval   = 5 * time.Minute
	orphanCheckpointTTL = 7 * 24 * time.Hour
)

// CleanupCallback is called when the TTL worker expires a session.
type CleanupCallback func(userID, sessionID string)

// withRetry runs op, retrying SQLITE_BUSY and locked errors with exponential
// backoff: 100ms, 200ms.
func withRetry(ctx context.Context, what string, op func(context.Context) error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !store.IsConflict(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("TTL worker: database busy, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, maxRetries, err)
}

// StartTTLWorker runs a background goroutine that periodically drops chat
// sessions idle for longer than ttl.
func StartTTLWorker(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredSessions(ctx, repo, mgr, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpiredSessions(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration, onCleanup CleanupCallback) {
	expired, err := repo.GetExpiredChatSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return
	}

	if len(expired) > 0 {
		slog.Info("TTL worker found expired sessions", "count", len(expired))
	}

	cleaned := 0
	for _, sess := range expired {
		teardown := func() bool {
			if !stillExpired(ctx, repo, sess, ttl) {
				slog.Debug("TTL worker skipping session touched since the scan",
					"user_id", sess.UserID, "session_id", sess.SessionID)
				return false
			}
			slog.Info("TTL worker cleaning up session",
				"user_id", sess.UserID,
				"session_id", sess.SessionID,
				"thread_id", sess.ThreadID)
			expireSession(ctx, repo, sess, onCleanup)
			cleaned++
			return true
		}

		if mgr == nil {
			teardown()
			continue
		}
		if !mgr.Expire(sess.UserID, sess.SessionID, teardown) {
			slog.Info("TTL worker skipping busy session",
				"user_id", sess.UserID, "session_id", sess.SessionID)
		}
	}

	if cleaned > 0 {
		slog.Info("TTL worker cleanup completed", "cleaned", cleaned)
	}

	if deleted, err := repo.CleanupOrphanedCheckpoints(ctx, orphanCheckpointTTL); err != nil {
		slog.Error("TTL worker failed to cleanup orphaned checkpoints", "error", err)
	} else if deleted > 0 {
		slog.Info("TTL worker cleaned up orphaned checkpoints", "count", deleted)
	}
}

// stillExpired re-reads the binding: a superstep finishing after the scan
// refreshes updated_at, and a reset rebinds the thread.
func stillExpired(ctx context.Context, repo store.Repository, sess *domain.ChatSession, ttl time.Duration) bool {
	current, err := repo.GetChatSession(ctx, sess.UserID, sess.SessionID)
	if err != nil {
		slog.Warn("TTL worker failed to reload chat session", "error", err, "user_id", sess.UserID)
		return false
	}
	return current != nil &&
		current.ThreadID == sess.ThreadID &&
		time.Since(current.UpdatedAt) > ttl
}

func expireSession(ctx context.Context, repo store.Repository, sess *domain.ChatSession, onCleanup CleanupCallback) {
	if onCleanup != nil {
		onCleanup(sess.UserID, sess.SessionID)
	}
	if err := withRetry(ctx, "delete checkpoint", func(ctx context.Context) error {
		return repo.DeleteCheckpoint(ctx, sess.ThreadID)
	}); err != nil {
		slog.Warn("TTL worker failed to delete checkpoint", "error", err, "thread_id", sess.ThreadID)
	}
	if err := withRetry(ctx, "delete chat session", func(ctx context.Context) error {
		return repo.DeleteChatSession(ctx, sess.UserID, sess.SessionID)
	}); err != nil {
		slog.Warn("TTL worker failed to delete chat session", "error", err, "user_id", sess.UserID)
	}
}
