package agent

import (
	"context"
	"iter"

	"github.com/ashureev/sidekick/internal/domain"
)

// Processor runs conversations for (user, session) pairs.
type Processor interface {
	// Chat runs one superstep and streams its progress. The last event of a
	// successful run has type EventDone.
	Chat(ctx context.Context, req ChatRequest) iter.Seq2[*Event, error]

	// History returns the display transcript of a session.
	History(ctx context.Context, userID, sessionID string) ([]domain.ChatEntry, error)

	// ResetSession drops the session's conversation and starts a new thread.
	ResetSession(ctx context.Context, userID, sessionID string) error

	// GetStats returns runtime statistics.
	GetStats() Stats

	// Close releases resources.
	Close()
}

// Ensure Manager implements Processor.
var _ Processor = (*Manager)(nil)
