package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/llm"
	"github.com/ashureev/sidekick/internal/tools"
)

const defaultDelegateRounds = 5

type delegateArgs struct {
	Task string `json:"task"`
}

// newDelegateTool exposes a role agent as a tool. The agent runs its own
// bounded tool loop and returns its final answer as the tool output.
func newDelegateTool(name string, role Role, model llm.ChatModel, reg *tools.Registry) tools.Tool {
	return &tools.Func[delegateArgs]{
		ToolName:        name,
		ToolDescription: fmt.Sprintf("Delegate a self-contained task to %s. %s", role.Name, role.Description),
		Schema: tools.Object(map[string]any{
			"task": tools.String("The task, with all the context the agent needs"),
		}, "task"),
		Fn: func(ctx context.Context, a delegateArgs) (string, error) {
			if a.Task == "" {
				return "", fmt.Errorf("task is required")
			}
			return runRole(ctx, role, model, reg, a.Task)
		},
	}
}

func runRole(ctx context.Context, role Role, model llm.ChatModel, reg *tools.Registry, task string) (string, error) {
	rounds := role.MaxRounds
	if rounds <= 0 {
		rounds = defaultDelegateRounds
	}

	msgs := []domain.Message{{Role: domain.RoleUser, Content: task}}
	specs := reg.Specs()
	var lastText string

	for round := 0; round < rounds; round++ {
		resp, err := model.Generate(ctx, &llm.Request{
			System:   role.SystemPrompt,
			Messages: msgs,
			Tools:    specs,
		})
		if err != nil {
			return "", fmt.Errorf("%s: %w", role.Name, err)
		}

		msg := resp.Message
		msg.Role = domain.RoleAssistant
		msgs = append(msgs, msg)
		if msg.Content != "" {
			lastText = msg.Content
		}
		if !msg.HasToolCalls() {
			slog.Debug("Delegate finished", "role", role.Name, "rounds", round+1)
			return msg.Content, nil
		}

		for _, r := range executeCalls(ctx, reg, msg.ToolCalls) {
			msgs = append(msgs, r.Message())
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	slog.Warn("Delegate hit its round limit", "role", role.Name, "rounds", rounds)
	if lastText != "" {
		return lastText, nil
	}
	return fmt.Sprintf("%s stopped after %d rounds without a final answer", role.Name, rounds), nil
}
