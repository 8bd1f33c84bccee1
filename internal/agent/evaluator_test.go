package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func TestParseEvaluation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Evaluation
		wantErr bool
	}{
		{
			name: "plain json",
			in:   `{"feedback":"good","success_criteria_met":true,"user_input_needed":false}`,
			want: Evaluation{Feedback: "good", SuccessCriteriaMet: true},
		},
		{
			name: "fenced with prose",
			in:   "Here you go:\n```json\n{\"feedback\": \"ask the user\", \"user_input_needed\": true}\n```",
			want: Evaluation{Feedback: "ask the user", UserInputNeeded: true},
		},
		{name: "no object", in: "looks fine to me", wantErr: true},
		{name: "broken json", in: `{"feedback": "x",}`, wantErr: true},
		{name: "empty feedback", in: `{"feedback":"  ","success_criteria_met":true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseEvaluation(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEvaluation failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("evaluation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFallbackEvaluation(t *testing.T) {
	t.Parallel()

	if ev := fallbackEvaluation("Looks complete."); ev.UserInputNeeded || ev.SuccessCriteriaMet {
		t.Fatalf("unexpected flags for statement: %+v", ev)
	}
	if ev := fallbackEvaluation("Which timezone?"); !ev.UserInputNeeded || ev.Feedback != "Which timezone?" {
		t.Fatalf("expected question to need input: %+v", ev)
	}
}

func TestWorkerPrompt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := workerPrompt(State{SuccessCriteria: "Cite two sources"}, now)
	for _, want := range []string{"Cite two sources", "2026-01-02 03:04:05", "Question: please clarify"} {
		if !strings.Contains(base, want) {
			t.Errorf("prompt lacks %q", want)
		}
	}
	if strings.Contains(base, "rejected") || strings.Contains(base, "subtasks") {
		t.Errorf("prompt without feedback or plan should not mention them:\n%s", base)
	}

	full := workerPrompt(State{
		SuccessCriteria: "c",
		FeedbackOnWork:  "too short",
		Subtasks:        []string{"search", "summarize"},
	}, now)
	for _, want := range []string{"1. search\n2. summarize", "Here is the feedback on why this was rejected:\ntoo short"} {
		if !strings.Contains(full, want) {
			t.Errorf("prompt lacks %q:\n%s", want, full)
		}
	}
}

func TestFormatConversation(t *testing.T) {
	t.Parallel()

	got := formatConversation([]domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "1", Name: "search"}}},
		{Role: domain.RoleTool, Content: "results", ToolCallID: "1"},
		{Role: domain.RoleAssistant, Content: "hello"},
	})
	want := "Conversation history:\n\nUser: hi\nAssistant: [Tools use]\nAssistant: hello\n"
	if got != want {
		t.Fatalf("formatConversation = %q, want %q", got, want)
	}
}

func TestEvaluatorUserPromptMentionsPriorFeedback(t *testing.T) {
	t.Parallel()

	s := State{
		Messages:        []domain.Message{{Role: domain.RoleUser, Content: "q"}, {Role: domain.RoleAssistant, Content: "final answer"}},
		SuccessCriteria: "be brief",
		FeedbackOnWork:  "earlier note",
	}
	got := evaluatorUserPrompt(s)
	for _, want := range []string{"be brief", "final answer", "you provided this feedback: earlier note"} {
		if !strings.Contains(got, want) {
			t.Errorf("evaluator prompt lacks %q", want)
		}
	}
}
