package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "sidekick.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil user, got %v err=%v", got, err)
	}

	now := time.Unix(1_700_000_000, 0)
	if err := s.UpsertUser(ctx, &domain.User{
		UserID: "anon_1", Username: "anon-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err = s.GetUser(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Username != "anon-1" || !got.LastSeenAt.Equal(later) {
		t.Fatalf("unexpected user %+v", got)
	}
}

func TestChatSessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID: "u", SessionID: "tab-1", ThreadID: "thread-a", CreatedAt: old, UpdatedAt: old,
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID: "u", SessionID: "tab-2", ThreadID: "thread-b",
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	expired, err := s.GetExpiredChatSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("GetExpiredChatSessions failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ThreadID != "thread-a" {
		t.Fatalf("expected only thread-a to be expired, got %+v", expired)
	}

	if err := s.UpsertChatSession(ctx, &domain.ChatSession{
		UserID: "u", SessionID: "tab-1", ThreadID: "thread-c",
	}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}
	got, err := s.GetChatSession(ctx, "u", "tab-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got.ThreadID != "thread-c" {
		t.Fatalf("expected rebound thread, got %q", got.ThreadID)
	}

	if err := s.DeleteChatSession(ctx, "u", "tab-1"); err != nil {
		t.Fatalf("DeleteChatSession failed: %v", err)
	}
	got, err = s.GetChatSession(ctx, "u", "tab-1")
	if err != nil || got != nil {
		t.Fatalf("expected deleted session, got %v err=%v", got, err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	cp := &domain.Checkpoint{
		ThreadID: "thread-1",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "book lunch"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{
				ID: "call_1", Name: "list_upcoming_events", Arguments: json.RawMessage(`{"max_results":3}`),
			}}},
			{Role: domain.RoleTool, Content: "No upcoming events found.", ToolCallID: "call_1", Name: "list_upcoming_events"},
		},
		Transcript: []domain.ChatEntry{{Role: domain.RoleUser, Content: "book lunch"}},
	}
	if err := s.PutCheckpoint(ctx, cp); err != nil {
		t.Fatalf("PutCheckpoint failed: %v", err)
	}

	got, err := s.GetCheckpoint(ctx, "thread-1")
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if diff := cmp.Diff(cp.Messages, got.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cp.Transcript, got.Transcript); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteCheckpoint(ctx, "thread-1"); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	got, err = s.GetCheckpoint(ctx, "thread-1")
	if err != nil || got != nil {
		t.Fatalf("expected nil checkpoint, got %v err=%v", got, err)
	}
}

func TestCleanupOrphanedCheckpointsKeepsBoundThreads(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bound", "orphan"} {
		if err := s.PutCheckpoint(ctx, &domain.Checkpoint{ThreadID: id}); err != nil {
			t.Fatalf("PutCheckpoint failed: %v", err)
		}
	}
	if err := s.UpsertChatSession(ctx, &domain.ChatSession{UserID: "u", SessionID: "s", ThreadID: "bound"}); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	// A negative TTL puts the threshold in the future so every row qualifies by age.
	deleted, err := s.CleanupOrphanedCheckpoints(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("CleanupOrphanedCheckpoints failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted checkpoint, got %d", deleted)
	}
	if cp, _ := s.GetCheckpoint(ctx, "bound"); cp == nil {
		t.Fatal("bound checkpoint should survive cleanup")
	}
}

func TestIsConflict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: retry"), true},
		{errors.New("database is locked"), true},
		{errors.New("constraint failed"), false},
	}
	for _, tt := range tests {
		if got := IsConflict(tt.err); got != tt.want {
			t.Errorf("IsConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
