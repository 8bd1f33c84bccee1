// Package domain contains core domain types for the Sidekick application.
package domain

import (
	"time"
)

// User represents an anonymous browser identity.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChatSession binds a browser tab session to the conversation thread it drives.
type ChatSession struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Idle reports whether the session has been inactive for longer than ttl.
func (s *ChatSession) Idle(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.UpdatedAt) > ttl
}
