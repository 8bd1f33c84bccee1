package llm

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

func TestToGenAIRequest(t *testing.T) {
	t.Parallel()

	contents, cfg := toGenAIRequest(&Request{
		System: "You are a sidekick.",
		JSON:   true,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "plan my day"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "a", Name: "search", Arguments: json.RawMessage(`{"query":"weather"}`)},
				{ID: "b", Name: "wikipedia", Arguments: json.RawMessage(`{"query":"Pune"}`)},
			}},
			{Role: domain.RoleTool, ToolCallID: "a", Name: "search", Content: "sunny"},
			{Role: domain.RoleTool, ToolCallID: "b", Name: "wikipedia", Content: "city"},
			{Role: domain.RoleAssistant, Content: "It is sunny."},
		},
		Tools: []ToolSpec{{Name: "search", Parameters: map[string]any{"type": "object"}}},
	})

	if len(contents) != 4 {
		t.Fatalf("expected 4 contents, got %d", len(contents))
	}
	if contents[1].Role != genai.RoleModel || len(contents[1].Parts) != 2 {
		t.Fatalf("expected model turn with two calls, got %+v", contents[1])
	}
	if got := contents[1].Parts[0].FunctionCall.Args["query"]; got != "weather" {
		t.Errorf("unexpected call args %v", got)
	}
	if len(contents[2].Parts) != 2 || contents[2].Parts[1].FunctionResponse.Name != "wikipedia" {
		t.Fatalf("expected tool responses merged into one turn, got %+v", contents[2])
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "You are a sidekick." {
		t.Errorf("missing system instruction")
	}
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("expected json mime type, got %q", cfg.ResponseMIMEType)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].FunctionDeclarations[0].Name != "search" {
		t.Errorf("unexpected tools %+v", cfg.Tools)
	}
}

func TestFromGenAIResponse(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{Text: "thinking...", Thought: true},
					{Text: "Checking your calendar."},
					{FunctionCall: &genai.FunctionCall{Name: "list_upcoming_events", Args: map[string]any{"max_results": 3}}},
				},
			},
		}},
	}

	msg, err := fromGenAIResponse(resp)
	if err != nil {
		t.Fatalf("fromGenAIResponse failed: %v", err)
	}
	want := domain.Message{
		Role:    domain.RoleAssistant,
		Content: "Checking your calendar.",
		ToolCalls: []domain.ToolCall{{
			ID: "call_2", Name: "list_upcoming_events", Arguments: json.RawMessage(`{"max_results":3}`),
		}},
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}

	if _, err := fromGenAIResponse(&genai.GenerateContentResponse{}); err != ErrEmptyResponse {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}
