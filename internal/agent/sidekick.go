package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/llm"
	"github.com/ashureev/sidekick/internal/tools"
	"github.com/cloudwego/eino/compose"
	"golang.org/x/sync/errgroup"
)

// maxParallelTools bounds concurrent tool calls of a single assistant turn.
const maxParallelTools = 4

// Options tunes the pipeline.
type Options struct {
	MaxIterations  int
	RecursionLimit int
	PlannerEnabled bool
	EvaluatorModel string
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10
	}
	if o.RecursionLimit <= 0 {
		o.RecursionLimit = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Sidekick is the compiled pipeline of one conversation thread.
type Sidekick struct {
	threadID string
	model    llm.ChatModel
	registry *tools.Registry
	roles    Roles
	opts     Options
	runnable compose.Runnable[State, State]
}

// NewSidekick wires the pipeline. base holds every tool available to the
// worker; the researcher and coder delegates draw their subsets from it.
func NewSidekick(threadID string, model llm.ChatModel, base []tools.Tool, roles Roles, opts Options) (*Sidekick, error) {
	sk := &Sidekick{
		threadID: threadID,
		model:    model,
		registry: tools.NewRegistry(base...),
		roles:    roles,
		opts:     opts.withDefaults(),
	}

	for _, d := range []struct {
		name string
		role Role
	}{
		{"ask_researcher", roles.Researcher},
		{"ask_coder", roles.Coder},
	} {
		sub := sk.registry.Subset(d.role.Tools...)
		sk.registry.Register(newDelegateTool(d.name, d.role, model, sub))
	}

	r, err := sk.compile(context.Background())
	if err != nil {
		return nil, fmt.Errorf("build sidekick graph: %w", err)
	}
	sk.runnable = r
	return sk, nil
}

// ThreadID returns the conversation thread this pipeline serves.
func (sk *Sidekick) ThreadID() string { return sk.threadID }

// ToolNames lists the worker's tools.
func (sk *Sidekick) ToolNames() []string { return sk.registry.Names() }

type plannerOutput struct {
	Subtasks []string `json:"subtasks"`
}

func (sk *Sidekick) plannerNode(ctx context.Context, s State) (State, error) {
	resp, err := sk.model.Generate(ctx, &llm.Request{
		System: sk.roles.Planner.SystemPrompt,
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: "Request: " + s.lastUserMessage() + "\n\nSuccess criteria: " + s.SuccessCriteria,
		}},
		JSON: true,
	})
	if err != nil {
		slog.Warn("Planner failed, continuing without subtasks", "thread_id", sk.threadID, "error", err)
		return s, nil
	}

	raw, err := extractJSONObject(resp.Message.Content)
	var out plannerOutput
	if err == nil {
		err = json.Unmarshal([]byte(raw), &out)
	}
	if err != nil {
		slog.Warn("Planner returned no usable plan", "thread_id", sk.threadID, "error", err)
		return s, nil
	}

	s.Subtasks = out.Subtasks
	slog.Debug("Planner produced subtasks", "thread_id", sk.threadID, "count", len(out.Subtasks))
	return s, nil
}

func (sk *Sidekick) workerNode(ctx context.Context, s State) (State, error) {
	resp, err := sk.model.Generate(ctx, &llm.Request{
		System:   workerPrompt(s, sk.opts.Now()),
		Messages: s.Messages,
		Tools:    sk.registry.Specs(),
	})
	if err != nil {
		return s, fmt.Errorf("worker: %w", err)
	}

	msg := resp.Message
	msg.Role = domain.RoleAssistant
	s = s.appendMessages(msg)
	s.Iterations++
	return s, nil
}

func (sk *Sidekick) toolsNode(ctx context.Context, s State) (State, error) {
	last, _ := s.last()
	results := executeCalls(ctx, sk.registry, last.ToolCalls)
	if err := ctx.Err(); err != nil {
		return s, err
	}

	msgs := make([]domain.Message, len(results))
	for i, r := range results {
		msgs[i] = r.Message()
	}
	return s.appendMessages(msgs...), nil
}

// executeCalls runs the calls in parallel and returns results in call order.
func executeCalls(ctx context.Context, reg *tools.Registry, calls []domain.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = reg.Execute(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func routeWorker(_ context.Context, s State) (string, error) {
	if last, ok := s.last(); ok && last.HasToolCalls() {
		return NodeTools, nil
	}
	return NodeEvaluator, nil
}

func (sk *Sidekick) routeEvaluation(_ context.Context, s State) (string, error) {
	if s.Iterations >= sk.opts.MaxIterations || s.SuccessCriteriaMet || s.UserInputNeeded {
		return compose.END, nil
	}
	return NodeWorker, nil
}
