package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible endpoint (OpenAI, OpenRouter, Ollama).
type OpenAIConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIClient talks to any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client   *openai.Client
	provider string
	model    string
}

// NewOpenAI creates a client for an OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	switch {
	case cfg.HTTPClient != nil:
		oc.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(oc),
		provider: cfg.Provider,
		model:    cfg.Model,
	}
}

// Name implements ChatModel.
func (c *OpenAIClient) Name() string {
	return c.provider + ":" + c.model
}

// Generate implements ChatModel.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	oreq := toOpenAIRequest(model, req)
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	slog.Debug("LLM call completed",
		"provider", c.provider,
		"model", model,
		"tools", len(req.Tools),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Message: fromOpenAIMessage(resp.Choices[0].Message),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toOpenAIRequest(model string, req *Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		switch m.Role {
		case domain.RoleAssistant:
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: argumentsString(tc.Arguments),
					},
				})
			}
		case domain.RoleTool:
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		}
		msgs = append(msgs, msg)
	}

	oreq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.JSON {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return oreq
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) domain.Message {
	msg := domain.Message{
		Role:    domain.RoleAssistant,
		Content: m.Content,
	}
	for i, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: NormalizeArguments(tc.Function.Arguments),
		})
	}
	return msg
}

func argumentsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// NormalizeArguments turns provider argument text into valid JSON. Malformed
// text is kept as a JSON string so the tool can report the decode failure.
func NormalizeArguments(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
