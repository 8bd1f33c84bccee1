package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func TestOpenAIGenerateRoundTrip(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "list_upcoming_events", "arguments": "{\"max_results\":2}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
		}`)
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{
		Provider: "openrouter",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Model:    "default-model",
	})

	resp, err := client.Generate(context.Background(), &Request{
		Model:  "override-model",
		System: "be helpful",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "what's next?"},
		},
		Tools: []ToolSpec{{
			Name:        "list_upcoming_events",
			Description: "List events",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got["model"] != "override-model" {
		t.Errorf("expected override model, got %v", got["model"])
	}
	msgs := got["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Errorf("expected system + user messages, got %v", msgs)
	}

	want := domain.Message{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{
			ID: "call_abc", Name: "list_upcoming_events", Arguments: json.RawMessage(`{"max_results":2}`),
		}},
	}
	if diff := cmp.Diff(want, resp.Message); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if resp.Usage.TotalTokens != 18 {
		t.Errorf("expected 18 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIGenerateEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{Provider: "ollama", APIKey: "ollama", BaseURL: srv.URL, Model: "m"})
	if _, err := client.Generate(context.Background(), &Request{}); err != ErrEmptyResponse {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestToOpenAIRequestToolMessages(t *testing.T) {
	t.Parallel()

	req := toOpenAIRequest("m", &Request{
		JSON: true,
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "search"}}},
			{Role: domain.RoleTool, Content: "result", ToolCallID: "c1", Name: "search"},
		},
	})

	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", req.ResponseFormat)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if args := req.Messages[0].ToolCalls[0].Function.Arguments; args != "{}" {
		t.Errorf("expected empty arguments to become {}, got %q", args)
	}
	if req.Messages[1].ToolCallID != "c1" {
		t.Errorf("expected tool call id to be carried, got %q", req.Messages[1].ToolCallID)
	}
}

func TestNormalizeArguments(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":        `{}`,
		`{"a":1}`: `{"a":1}`,
		`{"a":1`:  `"{\"a\":1"`,
	}
	for in, want := range tests {
		if got := string(NormalizeArguments(in)); got != want {
			t.Errorf("NormalizeArguments(%q) = %s, want %s", in, got, want)
		}
	}
}
