// Package llm adapts provider SDKs to a single chat model interface used by
// the agent pipeline.
package llm

import (
	"context"
	"errors"

	"github.com/ashureev/sidekick/internal/domain"
)

// ErrEmptyResponse is returned when a provider answers without a choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
}

// Request is one chat completion call.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model    string
	System   string
	Messages []domain.Message
	Tools    []ToolSpec
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Usage reports token accounting for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response holds the assistant message produced by the model.
type Response struct {
	Message domain.Message
	Usage   Usage
}

// ChatModel generates assistant messages.
type ChatModel interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Name identifies provider and default model for logs.
	Name() string
}
