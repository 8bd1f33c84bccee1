// Package llmtest provides scripted chat models for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/llm"
)

// ErrExhausted is returned when a Scripted model runs out of steps.
var ErrExhausted = errors.New("llmtest: no scripted response left")

// Step is one scripted model answer.
type Step struct {
	Message domain.Message
	Err     error
}

// Reply scripts a plain assistant answer.
func Reply(text string) Step {
	return Step{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}
}

// CallTool scripts an assistant turn requesting one tool call.
func CallTool(id, name string, args any) Step {
	raw, err := json.Marshal(args)
	if err != nil {
		return Fail(err)
	}
	return Step{Message: domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{ID: id, Name: name, Arguments: raw}},
	}}
}

// Fail scripts a provider error.
func Fail(err error) Step {
	return Step{Err: err}
}

// Scripted returns queued responses in order and records every request.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// New creates a Scripted model.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Push appends steps to the queue.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Name implements llm.ChatModel.
func (s *Scripted) Name() string { return "scripted" }

// Generate implements llm.ChatModel.
func (s *Scripted) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, cloneRequest(req))
	if len(s.steps) == 0 {
		return nil, ErrExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return &llm.Response{Message: step.Message}, nil
}

// Requests returns a copy of the recorded requests.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Remaining reports how many scripted steps are unused.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneRequest(req *llm.Request) llm.Request {
	c := *req
	c.Messages = append([]domain.Message(nil), req.Messages...)
	c.Tools = append([]llm.ToolSpec(nil), req.Tools...)
	return c
}

// Func adapts a function to llm.ChatModel, for tests that route on the request.
type Func func(ctx context.Context, req *llm.Request) (*llm.Response, error)

// Name implements llm.ChatModel.
func (f Func) Name() string { return "func" }

// Generate implements llm.ChatModel.
func (f Func) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}
