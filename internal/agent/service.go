package agent

import (
	"context"
	"iter"

	"github.com/ashureev/sidekick/internal/domain"
)

// Service provides chat functionality on top of a Processor.
type Service struct {
	processor Processor
}

// NewService creates a service backed by processor.
func NewService(processor Processor) *Service {
	return &Service{processor: processor}
}

// Chat processes a user message and streams superstep events.
func (s *Service) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*Event, error] {
	return s.processor.Chat(ctx, req)
}

// History returns the session transcript.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]domain.ChatEntry, error) {
	return s.processor.History(ctx, userID, sessionID)
}

// ResetSession clears the session conversation.
func (s *Service) ResetSession(ctx context.Context, userID, sessionID string) error {
	return s.processor.ResetSession(ctx, userID, sessionID)
}

// GetStats returns agent statistics.
func (s *Service) GetStats() Stats {
	return s.processor.GetStats()
}

// Close releases resources.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}
