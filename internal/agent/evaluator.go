package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/llm"
)

var errNoJSONObject = errors.New("no JSON object in response")

// Evaluation is the evaluator's verdict on the worker's last answer.
type Evaluation struct {
	Feedback           string `json:"feedback"`
	SuccessCriteriaMet bool   `json:"success_criteria_met"`
	UserInputNeeded    bool   `json:"user_input_needed"`
}

// extractJSONObject returns the outermost {...} span of s, tolerating
// markdown fences and surrounding prose.
func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func parseEvaluation(text string) (Evaluation, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return Evaluation{}, err
	}
	var ev Evaluation
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}
	if strings.TrimSpace(ev.Feedback) == "" {
		return Evaluation{}, errors.New("evaluation has no feedback")
	}
	return ev, nil
}

// fallbackEvaluation treats a free-text answer as feedback. A question mark
// means the evaluator wants the user involved.
func fallbackEvaluation(text string) Evaluation {
	return Evaluation{
		Feedback:        text,
		UserInputNeeded: strings.Contains(text, "?"),
	}
}

func (sk *Sidekick) evaluate(ctx context.Context, s State) (Evaluation, error) {
	req := &llm.Request{
		Model:  sk.opts.EvaluatorModel,
		System: evaluatorSystemPrompt,
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: evaluatorUserPrompt(s) + evaluatorJSONInstruction,
		}},
		JSON: true,
	}

	resp, err := sk.model.Generate(ctx, req)
	if err == nil {
		ev, perr := parseEvaluation(resp.Message.Content)
		if perr == nil {
			return ev, nil
		}
		err = perr
	}
	slog.Warn("Structured evaluation failed, retrying as plain text", "thread_id", sk.threadID, "error", err)

	req.JSON = false
	resp, err = sk.model.Generate(ctx, req)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluator: %w", err)
	}
	return fallbackEvaluation(resp.Message.Content), nil
}

func (sk *Sidekick) evaluatorNode(ctx context.Context, s State) (State, error) {
	ev, err := sk.evaluate(ctx, s)
	if err != nil {
		return s, err
	}

	s = s.appendMessages(domain.Message{
		Role:    domain.RoleAssistant,
		Content: FeedbackPrefix + ev.Feedback,
	})
	s.FeedbackOnWork = ev.Feedback
	s.SuccessCriteriaMet = ev.SuccessCriteriaMet
	s.UserInputNeeded = ev.UserInputNeeded
	return s, nil
}
